package parser

import (
	"bytes"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-phones/models"
)

const (
	specsContainerSelector = "div#specs-list"
	priceSelector          = `td[data-spec="price"]`
	unknownCategory        = "Unknown"
)

// ExtractSpecs maps the category tables of a phone page onto a record over
// fields. Missing markup leaves fields absent; it never fails.
func ExtractSpecs(body []byte, url, name string, fields []string) *models.SpecRecord {
	record := models.NewSpecRecord(fields, url, name)

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return record
	}

	doc.Find(specsContainerSelector).First().Find("table").Each(func(_ int, table *goquery.Selection) {
		category := unknownCategory
		if th := table.Find("th").First(); th.Length() > 0 {
			category = th.Text()
		}

		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			ttl := row.Find("td.ttl").First()
			nfo := row.Find("td.nfo").First()
			if ttl.Length() == 0 || nfo.Length() == 0 {
				return
			}
			key := SpecKey(category, ttl.Text())
			if key == models.FieldURL || key == models.FieldName {
				return
			}
			record.Set(key, nfo.Text())
		})
	})

	// Price is not always nested under the specs container.
	if price := doc.Find(priceSelector).First(); price.Length() > 0 {
		record.Set(models.FieldPrice, price.Text())
	}

	return record
}
