// Package windsor fetches Facebook Ads performance rows from the Windsor.ai
// connector API and turns them into KPI summaries.
package windsor

import (
	"encoding/json"
	"strconv"
)

// Windsor column names.
const (
	ColConversions    = "actions_offsite_conversion_fb_pixel_purchase"
	ColROAS           = "website_purchase_roas_offsite_conversion_fb_pixel_purchase"
	ColConversionRate = "conversion_rate"
)

// Fields is the fixed column list requested from the connector.
const Fields = "account_id,account_name,date,campaign,campaign_id,spend,impressions,clicks,ctr,cpc," +
	ColConversions + "," + ColConversionRate + "," + ColROAS + ",reach,frequency"

// metricAliases maps KPI names used by tools and skills to columns.
var metricAliases = map[string]string{
	"conversions":    ColConversions,
	"roas":           ColROAS,
	"conversionRate": ColConversionRate,
}

// Column resolves a metric name to its Windsor column.
func Column(metric string) string {
	if col, ok := metricAliases[metric]; ok {
		return col
	}
	return metric
}

// Row is one daily row as returned by the connector. Values are kept
// generic so any column is addressable.
type Row map[string]any

// Number reads a numeric column. Missing or malformed values are 0.
func (r Row) Number(key string) float64 {
	switch v := r[key].(type) {
	case float64:
		return v
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// String reads a textual column. Numeric ids are formatted without
// exponent.
func (r Row) String(key string) string {
	switch v := r[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	}
	return ""
}

// KPIs is an aggregated KPI record.
type KPIs struct {
	Spend          float64 `json:"spend"`
	Impressions    float64 `json:"impressions"`
	Clicks         float64 `json:"clicks"`
	CTR            float64 `json:"ctr"`
	CPC            float64 `json:"cpc"`
	Conversions    float64 `json:"conversions"`
	ConversionRate float64 `json:"conversionRate"`
	ROAS           float64 `json:"roas"`
	Reach          float64 `json:"reach"`
	Frequency      float64 `json:"frequency"`
}

// DateRange is an inclusive YYYY-MM-DD range.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// DataPoint is one value of a metric series.
type DataPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// CampaignSummary identifies a campaign seen in the connector data.
type CampaignSummary struct {
	CampaignID   string `json:"campaign_id"`
	CampaignName string `json:"campaign_name"`
	AccountID    string `json:"account_id"`
	AccountName  string `json:"account_name"`
}

// Aggregate sums rows and derives the ratio KPIs. Ratios are 0 when their
// denominator is 0.
func Aggregate(rows []Row) KPIs {
	var k KPIs
	for _, r := range rows {
		k.Spend += r.Number("spend")
		k.Impressions += r.Number("impressions")
		k.Clicks += r.Number("clicks")
		k.Conversions += r.Number(ColConversions)
		k.Reach += r.Number("reach")
		k.ROAS += r.Number(ColROAS)
	}
	if k.Impressions > 0 {
		k.CTR = k.Clicks / k.Impressions * 100
	}
	if k.Clicks > 0 {
		k.CPC = k.Spend / k.Clicks
		k.ConversionRate = k.Conversions / k.Clicks * 100
	}
	if k.Reach > 0 {
		k.Frequency = k.Impressions / k.Reach
	}
	return k
}
