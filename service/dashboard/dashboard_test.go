package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/KAsare1/agriconsult-server/cmd/models"
	"github.com/KAsare1/agriconsult-server/db/dbtest"
	"github.com/gorilla/mux"
)

var now = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func payment(id uint, amount float64, status, consultationStatus string, created time.Time) models.Payment {
	p := models.Payment{Amount: amount, Status: status, ClientID: 1, ExpertID: 2}
	p.ID = id
	p.CreatedAt = created
	p.Consultation = &models.Consultation{Status: consultationStatus, Topic: "Cocoa swollen shoot"}
	return p
}

func TestComputeEarnings(t *testing.T) {
	payments := []models.Payment{
		payment(1, 200, models.PaymentCompleted, models.StatusCompleted, time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)),
		payment(2, 100, models.PaymentCompleted, models.StatusCompleted, time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)),
		payment(3, 50, models.PaymentCompleted, models.StatusAccepted, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)),
		payment(4, 80, models.PaymentRefunded, models.StatusCancelled, time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)),
		payment(5, 40, models.PaymentCompleted, models.StatusCompleted, time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)),
	}

	e := ComputeEarnings(payments, 3, 10, now)

	checks := []struct {
		name      string
		got, want float64
	}{
		{"gross", e.Gross, 340},
		{"platform fee", e.PlatformFee, 34},
		{"net", e.Net, 306},
		{"this month", e.ThisMonth, 200},
		{"last month", e.LastMonth, 100},
		{"pending", e.Pending, 50},
		{"average", e.AveragePerConsultation, 113.33},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}

	if len(e.Monthly) != 6 || e.Monthly[0].Month != "2025-10" || e.Monthly[5].Month != "2026-03" {
		t.Fatalf("monthly = %+v", e.Monthly)
	}
	if m := e.Monthly[5]; m.Amount != 200 || m.Count != 1 || m.Label != "Mar 2026" {
		t.Errorf("march = %+v", m)
	}
	if m := e.Monthly[4]; m.Amount != 100 || m.Count != 1 {
		t.Errorf("february = %+v", m)
	}

	if len(e.Recent) != 4 || e.Recent[0].ID != 3 || e.Recent[1].ID != 1 {
		t.Errorf("recent = %+v, want newest first without the refund", e.Recent)
	}
	if e.Recent[0].Topic != "Cocoa swollen shoot" {
		t.Errorf("recent topic = %q", e.Recent[0].Topic)
	}
}

func TestComputeEarningsEmpty(t *testing.T) {
	e := ComputeEarnings(nil, 0, 10, now)
	if e.Gross != 0 || e.AveragePerConsultation != 0 || len(e.Monthly) != 6 || e.Recent == nil {
		t.Errorf("empty earnings = %+v", e)
	}
}

func TestBuildAnalytics(t *testing.T) {
	farmer := &models.User{FullName: "Ama Farmer"}
	farmer.ID = 1
	kojo := &models.User{FullName: "Kojo Soil"}
	kojo.ID = 2
	efua := &models.User{FullName: "Efua Crops"}
	efua.ID = 3

	consult := func(expert *models.User, status string, at time.Time) models.Consultation {
		return models.Consultation{ClientID: farmer.ID, ExpertID: expert.ID, Client: farmer, Expert: expert, Status: status, ScheduledAt: at}
	}
	consultations := []models.Consultation{
		consult(kojo, models.StatusCompleted, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)),
		consult(kojo, models.StatusAccepted, time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC)),
		consult(efua, models.StatusCancelled, time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)),
	}
	payments := []models.Payment{
		{ClientID: farmer.ID, ExpertID: kojo.ID, Amount: 50, Status: models.PaymentCompleted},
		{ClientID: farmer.ID, ExpertID: kojo.ID, Amount: 75, Status: models.PaymentCompleted},
		{ClientID: farmer.ID, ExpertID: efua.ID, Amount: 40, Status: models.PaymentRefunded},
	}

	a := BuildAnalytics(models.RoleFarmer, farmer.ID, consultations, payments, now)
	if a.TotalConsultations != 3 || a.ByStatus[models.StatusCompleted] != 1 || a.ByStatus[models.StatusRejected] != 0 {
		t.Errorf("counts = %d %v", a.TotalConsultations, a.ByStatus)
	}
	if a.TotalSpent != 125 || a.TotalEarned != 0 {
		t.Errorf("spent = %v earned = %v, want 125 and 0", a.TotalSpent, a.TotalEarned)
	}
	if a.Monthly[5].Count != 2 || a.Monthly[3].Count != 1 {
		t.Errorf("monthly = %+v", a.Monthly)
	}
	if len(a.TopExperts) != 2 || a.TopExperts[0].Name != "Kojo Soil" || a.TopExperts[0].Consultations != 2 || a.TopExperts[0].Amount != 125 {
		t.Errorf("top experts = %+v", a.TopExperts)
	}
	if a.TopFarmers != nil {
		t.Errorf("farmer analytics lists top farmers: %+v", a.TopFarmers)
	}

	expertView := BuildAnalytics(models.RoleExpert, kojo.ID, consultations[:2], payments[:2], now)
	if expertView.TotalEarned != 125 || len(expertView.TopFarmers) != 1 || expertView.TopFarmers[0].Name != "Ama Farmer" {
		t.Errorf("expert analytics = %+v", expertView)
	}
}

func TestDashboardRoutes(t *testing.T) {
	gdb := dbtest.New(t)
	expert := dbtest.CreateExpert(t, gdb, "Kojo Soil", 50)
	farmer := dbtest.CreateFarmer(t, gdb, "Ama Farmer")
	done := dbtest.CreateConsultation(t, gdb, farmer, expert, now.Add(-48*time.Hour), models.StatusCompleted)
	gdb.Create(&models.Payment{
		ConsultationID: done.ID, ClientID: farmer.ID, ExpertID: expert.ID,
		Amount: 50, Method: "mobile_money", Reference: "PAY-DASH-1", Status: models.PaymentCompleted,
	})
	gdb.Model(&models.ExpertProfile{}).Where("user_id = ?", expert.ID).Updates(map[string]interface{}{"average_rating": 4.5, "total_ratings": 2})

	h := NewDashboardHandler(gdb, 10)
	h.now = func() time.Time { return now }
	router := mux.NewRouter()
	h.RegisterRoutes(router)

	get := func(target string, user *models.User) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, dbtest.NewRequest(http.MethodGet, target, nil, user))
		return rec
	}

	if rec := get("/earnings", farmer); rec.Code != http.StatusForbidden {
		t.Errorf("farmer earnings: status = %d, want 403", rec.Code)
	}

	rec := get("/earnings", expert)
	if rec.Code != http.StatusOK {
		t.Fatalf("earnings: status = %d (%s)", rec.Code, rec.Body.String())
	}
	var e Earnings
	json.Unmarshal(rec.Body.Bytes(), &e)
	if e.Gross != 50 || e.Net != 45 || e.CompletedConsultations != 1 || len(e.Recent) != 1 {
		t.Errorf("earnings = %+v", e)
	}

	rec = get("/analytics", expert)
	var a Analytics
	json.Unmarshal(rec.Body.Bytes(), &a)
	if a.Role != models.RoleExpert || a.TotalEarned != 50 || a.AverageRating != 4.5 || a.TotalRatings != 2 {
		t.Errorf("analytics = %+v", a)
	}

	rec = get("/dashboard/stats", farmer)
	var stats DashboardStats
	json.Unmarshal(rec.Body.Bytes(), &stats)
	if stats.TotalFarmers != 1 || stats.TotalExperts != 1 || stats.TotalConsultations != 1 || stats.TotalVolume != 50 {
		t.Errorf("stats = %+v", stats)
	}
}
