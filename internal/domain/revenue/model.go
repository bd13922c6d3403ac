// Package revenue reports on what was billed and collected. It only reads
// the ledger.
package revenue

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/medflow/billing/internal/domain/tariff"
	"github.com/medflow/billing/internal/platform/apperr"
)

var (
	ErrInvalidRange  = apperr.Validation("INVALID_RANGE", "from must be before to")
	ErrInvalidBucket = apperr.Validation("INVALID_BUCKET", "bucket must be day, week or month")
	ErrRangeTooLarge = apperr.Validation("RANGE_TOO_LARGE", "range has too many buckets")
)

// Range is a half-open interval [From, To).
type Range struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r Range) Valid() bool { return r.From.Before(r.To) }

type Summary struct {
	Range          Range           `json:"range"`
	TotalBilled    decimal.Decimal `json:"total_billed"`
	BillCount      int             `json:"bill_count"`
	TotalCollected decimal.Decimal `json:"total_collected"`
	Outstanding    decimal.Decimal `json:"outstanding"`
	// CollectionRate is collected over billed, in percent with one decimal.
	CollectionRate decimal.Decimal `json:"collection_rate"`
	ByPaymentMode  []ModeTotal     `json:"by_payment_mode"`
	ByStatus       []StatusCount   `json:"by_status"`
}

type ModeTotal struct {
	Mode   string          `json:"mode"`
	Amount decimal.Decimal `json:"amount"`
	Count  int             `json:"count"`
}

type StatusCount struct {
	Status      string          `json:"status"`
	Count       int             `json:"count"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type CategoryRevenue struct {
	Category  tariff.Category `json:"category"`
	Amount    decimal.Decimal `json:"amount"`
	ItemCount int             `json:"item_count"`
	// Share is the category's percentage of the range total.
	Share decimal.Decimal `json:"share"`
}

type DepartmentRevenue struct {
	Department       string          `json:"department"`
	DisplayName      string          `json:"display_name"`
	Revenue          decimal.Decimal `json:"revenue"`
	Pending          decimal.Decimal `json:"pending"`
	PotentialRevenue decimal.Decimal `json:"potential_revenue"`
	ItemCount        int             `json:"item_count"`
	Share            decimal.Decimal `json:"share"`
}

type ItemRevenue struct {
	Code        string          `json:"code"`
	Description string          `json:"description"`
	Category    tariff.Category `json:"category"`
	Amount      decimal.Decimal `json:"amount"`
	Count       int             `json:"count"`
}

type Bucket string

const (
	BucketDay   Bucket = "day"
	BucketWeek  Bucket = "week"
	BucketMonth Bucket = "month"
)

func ParseBucket(s string) (Bucket, error) {
	switch b := Bucket(strings.ToLower(strings.TrimSpace(s))); b {
	case BucketDay, BucketWeek, BucketMonth:
		return b, nil
	case "":
		return BucketDay, nil
	}
	return "", ErrInvalidBucket
}

// Truncate returns the start of the bucket containing t, in UTC. Weeks
// start on Monday.
func (b Bucket) Truncate(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch b {
	case BucketWeek:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case BucketMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return day
	}
}

// Next returns the start of the bucket after the one starting at t.
func (b Bucket) Next(t time.Time) time.Time {
	switch b {
	case BucketWeek:
		return t.AddDate(0, 0, 7)
	case BucketMonth:
		return t.AddDate(0, 1, 0)
	default:
		return t.AddDate(0, 0, 1)
	}
}

type TrendPoint struct {
	Start        time.Time       `json:"start"`
	Collected    decimal.Decimal `json:"collected"`
	PaymentCount int             `json:"payment_count"`
}

// departments maps tariff categories onto the hospital's reporting
// departments. Categories missing here report under their own name.
var departments = map[tariff.Category]string{
	tariff.CategoryLab:          "LABORATORY",
	tariff.CategoryRadiology:    "RADIOLOGY",
	tariff.CategoryConsultation: "CONSULTATION",
	tariff.CategoryPharmacy:     "PHARMACY",
	tariff.CategoryRoom:         "WARD_SERVICES",
	tariff.CategoryProcedure:    "PROCEDURES",
	tariff.CategoryEmergency:    "EMERGENCY",
}

func DepartmentOf(c tariff.Category) string {
	if d, ok := departments[c]; ok {
		return d
	}
	return strings.ToUpper(string(c))
}

// displayName turns WARD_SERVICES into Ward Services.
func displayName(dept string) string {
	words := strings.Split(strings.ToLower(dept), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

var hundred = decimal.NewFromInt(100)

// percent returns part/whole*100 rounded to one decimal, or zero when whole
// is zero.
func percent(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Mul(hundred).Div(whole).Round(1)
}
