// Package dbtest provides an in-memory database and fixtures for handler tests.
package dbtest

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KAsare1/agriconsult-server/cmd/models"
	"github.com/KAsare1/agriconsult-server/cmd/utils"
	"github.com/KAsare1/agriconsult-server/db"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// New returns a migrated in-memory sqlite database private to t.
func New(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	gdb, err := db.NewSQLiteStorage(dsn, zerolog.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(gdb, zerolog.Nop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close(gdb) })
	return gdb
}

func CreateFarmer(t testing.TB, gdb *gorm.DB, name string) *models.User {
	t.Helper()
	u := &models.User{
		FullName: name,
		Email:    strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@farm.test",
		Role:     models.RoleFarmer,
		FarmName: name + " Farm",
		Location: "Kumasi",
	}
	if err := gdb.Create(u).Error; err != nil {
		t.Fatalf("create farmer: %v", err)
	}
	return u
}

func CreateExpert(t testing.TB, gdb *gorm.DB, name string, hourlyRate float64) *models.User {
	t.Helper()
	u := &models.User{
		FullName: name,
		Email:    strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@expert.test",
		Role:     models.RoleExpert,
		Location: "Accra",
		ExpertProfile: &models.ExpertProfile{
			Specialty:       "Soil Science",
			Specialties:     models.StringList{"Soil Science", "Irrigation"},
			ExperienceYears: 8,
			HourlyRate:      hourlyRate,
			Verified:        true,
		},
	}
	if err := gdb.Create(u).Error; err != nil {
		t.Fatalf("create expert: %v", err)
	}
	return u
}

// CreateConsultation stores a consultation starting at scheduledAt.
func CreateConsultation(t testing.TB, gdb *gorm.DB, client, expert *models.User, scheduledAt time.Time, status string) *models.Consultation {
	t.Helper()
	scheduledAt = scheduledAt.UTC()
	c := &models.Consultation{
		ClientID:    client.ID,
		ExpertID:    expert.ID,
		Date:        scheduledAt.Format("2006-01-02"),
		Time:        scheduledAt.Format("15:04"),
		ScheduledAt: scheduledAt,
		Duration:    60,
		Topic:       "Maize leaf blight",
		Description: "Brown lesions spreading on lower leaves",
		Type:        models.TypeVideo,
		Status:      status,
		Fee:         50,
	}
	if err := gdb.Create(c).Error; err != nil {
		t.Fatalf("create consultation: %v", err)
	}
	return c
}

// NewRequest builds a request already authenticated as user.
func NewRequest(method, target string, body io.Reader, user *models.User) *http.Request {
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != nil {
		req = req.WithContext(utils.WithUser(req.Context(), user.ID, user.Role))
	}
	return req
}
