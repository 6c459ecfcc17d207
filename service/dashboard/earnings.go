package dashboard

import (
	"math"
	"sort"
	"time"

	"github.com/KAsare1/agriconsult-server/cmd/models"
)

const (
	monthKey     = "2006-01"
	monthLabel   = "Jan 2006"
	historyMonth = 6
	recentCount  = 5
)

type MonthTotal struct {
	Month  string  `json:"month"`
	Label  string  `json:"label"`
	Amount float64 `json:"amount"`
	Count  int     `json:"count"`
}

type Earnings struct {
	Gross                  float64              `json:"gross"`
	PlatformFee            float64              `json:"platform_fee"`
	PlatformFeePercent     float64              `json:"platform_fee_percent"`
	Net                    float64              `json:"net"`
	ThisMonth              float64              `json:"this_month"`
	LastMonth              float64              `json:"last_month"`
	Pending                float64              `json:"pending"`
	CompletedConsultations int64                `json:"completed_consultations"`
	AveragePerConsultation float64              `json:"average_per_consultation"`
	Monthly                []MonthTotal         `json:"monthly"`
	Recent                 []models.PaymentView `json:"recent_payments"`
}

// months returns the last n calendar months ending with now's, oldest first.
func months(now time.Time, n int) []time.Time {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	out := make([]time.Time, n)
	for i := 0; i < n; i++ {
		out[i] = first.AddDate(0, i-n+1, 0)
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ComputeEarnings summarises an expert's received payments. Each payment
// needs its Consultation preloaded. Refunded payments are ignored. Payments
// of consultations that are not completed yet count as pending, not earned.
// Month buckets and the platform fee apply to earned payments only.
func ComputeEarnings(payments []models.Payment, completedConsultations int64, feePercent float64, now time.Time) Earnings {
	now = now.UTC()
	window := months(now, historyMonth)
	buckets := make(map[string]*MonthTotal, len(window))
	e := Earnings{
		PlatformFeePercent:     feePercent,
		CompletedConsultations: completedConsultations,
		Monthly:                make([]MonthTotal, len(window)),
		Recent:                 []models.PaymentView{},
	}
	for i, m := range window {
		e.Monthly[i] = MonthTotal{Month: m.Format(monthKey), Label: m.Format(monthLabel)}
		buckets[e.Monthly[i].Month] = &e.Monthly[i]
	}
	thisMonth := window[len(window)-1].Format(monthKey)
	lastMonth := window[len(window)-2].Format(monthKey)

	var kept []models.Payment
	for _, p := range payments {
		if p.Status != models.PaymentCompleted {
			continue
		}
		kept = append(kept, p)

		if p.Consultation == nil || p.Consultation.Status != models.StatusCompleted {
			e.Pending += p.Amount
			continue
		}
		e.Gross += p.Amount

		key := p.CreatedAt.UTC().Format(monthKey)
		switch key {
		case thisMonth:
			e.ThisMonth += p.Amount
		case lastMonth:
			e.LastMonth += p.Amount
		}
		if b, ok := buckets[key]; ok {
			b.Amount += p.Amount
			b.Count++
		}
	}

	e.PlatformFee = round2(e.Gross * feePercent / 100)
	e.Gross = round2(e.Gross)
	e.Net = round2(e.Gross - e.PlatformFee)
	e.ThisMonth = round2(e.ThisMonth)
	e.LastMonth = round2(e.LastMonth)
	e.Pending = round2(e.Pending)
	for i := range e.Monthly {
		e.Monthly[i].Amount = round2(e.Monthly[i].Amount)
	}
	if completedConsultations > 0 {
		e.AveragePerConsultation = round2(e.Gross / float64(completedConsultations))
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].CreatedAt.After(kept[j].CreatedAt) })
	if len(kept) > recentCount {
		kept = kept[:recentCount]
	}
	e.Recent = append(e.Recent, models.NewPaymentViews(kept)...)
	return e
}
