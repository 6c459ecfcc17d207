package dashboard

import (
	"sort"
	"time"

	"github.com/KAsare1/agriconsult-server/cmd/models"
)

const topCount = 5

type MonthCount struct {
	Month string `json:"month"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Counterpart is an expert (for farmers) or a farmer (for experts) ranked by
// how often the caller consulted with them.
type Counterpart struct {
	UserID        uint    `json:"user_id"`
	Name          string  `json:"name"`
	Photo         string  `json:"photo"`
	Consultations int     `json:"consultations"`
	Amount        float64 `json:"amount"`
}

type Analytics struct {
	Role               string         `json:"role"`
	TotalConsultations int            `json:"total_consultations"`
	ByStatus           map[string]int `json:"by_status"`
	TotalSpent         float64        `json:"total_spent,omitempty"`
	TotalEarned        float64        `json:"total_earned,omitempty"`
	Monthly            []MonthCount   `json:"monthly"`
	TopExperts         []Counterpart  `json:"top_experts,omitempty"`
	TopFarmers         []Counterpart  `json:"top_farmers,omitempty"`
	AverageRating      float64        `json:"average_rating,omitempty"`
	TotalRatings       int            `json:"total_ratings,omitempty"`
}

// BuildAnalytics aggregates the caller's consultations and payments.
// Consultations need Client and Expert preloaded for the ranking.
func BuildAnalytics(role string, userID uint, consultations []models.Consultation, payments []models.Payment, now time.Time) Analytics {
	a := Analytics{
		Role:               role,
		TotalConsultations: len(consultations),
		ByStatus: map[string]int{
			models.StatusPending:   0,
			models.StatusAccepted:  0,
			models.StatusRejected:  0,
			models.StatusCancelled: 0,
			models.StatusCompleted: 0,
		},
	}

	window := months(now.UTC(), historyMonth)
	a.Monthly = make([]MonthCount, len(window))
	buckets := make(map[string]*MonthCount, len(window))
	for i, m := range window {
		a.Monthly[i] = MonthCount{Month: m.Format(monthKey), Label: m.Format(monthLabel)}
		buckets[a.Monthly[i].Month] = &a.Monthly[i]
	}

	ranking := make(map[uint]*Counterpart)
	for _, c := range consultations {
		a.ByStatus[c.Status]++
		if b, ok := buckets[c.ScheduledAt.UTC().Format(monthKey)]; ok {
			b.Count++
		}

		other := c.Expert
		if c.ExpertID == userID {
			other = c.Client
		}
		if other == nil {
			continue
		}
		cp, ok := ranking[other.ID]
		if !ok {
			cp = &Counterpart{UserID: other.ID, Name: other.FullName, Photo: other.ProfilePicture}
			ranking[other.ID] = cp
		}
		cp.Consultations++
	}

	total := 0.0
	for _, p := range payments {
		if p.Status != models.PaymentCompleted {
			continue
		}
		total += p.Amount
		otherID := p.ExpertID
		if p.ExpertID == userID {
			otherID = p.ClientID
		}
		if cp, ok := ranking[otherID]; ok {
			cp.Amount += p.Amount
		}
	}

	top := make([]Counterpart, 0, len(ranking))
	for _, cp := range ranking {
		cp.Amount = round2(cp.Amount)
		top = append(top, *cp)
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Consultations != top[j].Consultations {
			return top[i].Consultations > top[j].Consultations
		}
		if top[i].Amount != top[j].Amount {
			return top[i].Amount > top[j].Amount
		}
		return top[i].UserID < top[j].UserID
	})
	if len(top) > topCount {
		top = top[:topCount]
	}

	if role == models.RoleExpert {
		a.TotalEarned = round2(total)
		a.TopFarmers = top
	} else {
		a.TotalSpent = round2(total)
		a.TopExperts = top
	}
	return a
}
