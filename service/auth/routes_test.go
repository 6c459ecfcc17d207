package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KAsare1/agriconsult-server/cmd/models"
	"github.com/KAsare1/agriconsult-server/cmd/utils"
	"github.com/KAsare1/agriconsult-server/db/dbtest"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type stubChat struct{}

func (stubChat) CreateToken(userID string, _ time.Time, _ ...time.Time) (string, error) {
	return "chat-" + userID, nil
}

func setup(t *testing.T) (*mux.Router, *gorm.DB, *utils.TokenIssuer) {
	t.Helper()
	gdb := dbtest.New(t)
	tokens := utils.NewTokenIssuer("test-secret", time.Hour)
	h := NewHandler(gdb, tokens, utils.NewUploader(t.TempDir()), stubChat{}, zerolog.Nop())

	router := mux.NewRouter()
	h.RegisterPublicRoutes(router)
	h.RegisterRoutes(router)
	return router, gdb, tokens
}

func do(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRegisterAndLogin(t *testing.T) {
	router, gdb, tokens := setup(t)

	body := `{"full_name":"Kofi Annan","email":" Kofi@Example.com ","password":"secret1","role":"Expert",
		"specialties":["Poultry","Feed"],"hourly_rate":40,"bio":"Vet"}`
	rec := do(router, httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d: %s", rec.Code, rec.Body.String())
	}
	var registered struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}
	json.NewDecoder(rec.Body).Decode(&registered)
	if registered.User.Email != "kofi@example.com" || registered.User.Role != models.RoleExpert {
		t.Errorf("unexpected user %+v", registered.User)
	}
	if userID, role, err := tokens.Parse(registered.Token); err != nil || userID != registered.User.ID || role != models.RoleExpert {
		t.Errorf("token parse = (%d, %q, %v)", userID, role, err)
	}

	var profile models.ExpertProfile
	if err := gdb.Where("user_id = ?", registered.User.ID).First(&profile).Error; err != nil {
		t.Fatalf("expert profile missing: %v", err)
	}
	if profile.Specialty != "Poultry" || profile.HourlyRate != 40 || len(profile.Specialties) != 2 {
		t.Errorf("unexpected profile %+v", profile)
	}

	rec = do(router, httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(body)))
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate register status = %d, want 409", rec.Code)
	}

	rec = do(router, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"kofi@example.com","password":"wrong"}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad password status = %d, want 401", rec.Code)
	}

	rec = do(router, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"KOFI@example.com","password":"secret1"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rec.Code, rec.Body.String())
	}
	var login map[string]interface{}
	json.NewDecoder(rec.Body).Decode(&login)
	if login["token"] == "" || login["stream_token"] == nil {
		t.Errorf("unexpected login response %v", login)
	}
	if _, leaked := login["user"].(map[string]interface{})["password_hash"]; leaked {
		t.Error("password hash serialised")
	}
}

func TestRegisterValidation(t *testing.T) {
	router, _, _ := setup(t)

	rec := do(router, httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(`{"email":"bad","password":"123","role":"admin"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body struct {
		Fields map[string]string `json:"fields"`
	}
	json.NewDecoder(rec.Body).Decode(&body)
	for _, field := range []string{"full_name", "email", "password", "role"} {
		if _, ok := body.Fields[field]; !ok {
			t.Errorf("missing validation error for %s in %v", field, body.Fields)
		}
	}
}

func TestProfileUpdateAndPassword(t *testing.T) {
	router, gdb, _ := setup(t)
	farmer := dbtest.CreateFarmer(t, gdb, "Akua Sarpong")
	other := dbtest.CreateFarmer(t, gdb, "Esi Quaye")

	rec := do(router, dbtest.NewRequest(http.MethodPut, "/auth/profile", strings.NewReader(`{"email":"`+other.Email+`"}`), farmer))
	if rec.Code != http.StatusConflict {
		t.Errorf("taken email status = %d, want 409", rec.Code)
	}

	rec = do(router, dbtest.NewRequest(http.MethodPut, "/auth/profile", strings.NewReader(`{"farm_name":"Green Acres","primary_crops":["cocoa"," maize ",""]}`), farmer))
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", rec.Code, rec.Body.String())
	}
	var updated models.User
	json.NewDecoder(rec.Body).Decode(&updated)
	if updated.FarmName != "Green Acres" || len(updated.PrimaryCrops) != 2 || updated.PrimaryCrops[1] != "maize" {
		t.Errorf("unexpected user %+v", updated)
	}
	if updated.FullName != farmer.FullName {
		t.Errorf("full_name changed to %q", updated.FullName)
	}

	rec = do(router, dbtest.NewRequest(http.MethodPut, "/auth/password", strings.NewReader(`{"current_password":"nope","new_password":"longenough"}`), farmer))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("wrong current password status = %d, want 400", rec.Code)
	}
}

func TestUploadPicture(t *testing.T) {
	router, gdb, _ := setup(t)
	farmer := dbtest.CreateFarmer(t, gdb, "Adjoa Mensah")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("picture", "me.png")
	fw.Write([]byte("\x89PNG"))
	mw.Close()

	req := dbtest.NewRequest(http.MethodPost, "/auth/profile/picture", &buf, farmer)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := do(router, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d: %s", rec.Code, rec.Body.String())
	}

	var stored models.User
	gdb.First(&stored, farmer.ID)
	if !strings.HasPrefix(stored.ProfilePicture, "/uploads/images/") {
		t.Errorf("profile_picture = %q", stored.ProfilePicture)
	}
}

func TestPasswordTooLong(t *testing.T) {
	router, gdb, _ := setup(t)
	long := strings.Repeat("p", 80)

	rec := do(router, httptest.NewRequest(http.MethodPost, "/auth/register",
		strings.NewReader(`{"full_name":"Yaw Boateng","email":"yaw@farm.test","password":"`+long+`","role":"farmer"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("register status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Fields map[string]string `json:"fields"`
	}
	json.NewDecoder(rec.Body).Decode(&body)
	if _, ok := body.Fields["password"]; !ok {
		t.Errorf("missing password error in %v", body.Fields)
	}

	farmer := dbtest.CreateFarmer(t, gdb, "Akua Sarpong")
	rec = do(router, dbtest.NewRequest(http.MethodPut, "/auth/password",
		strings.NewReader(`{"current_password":"","new_password":"`+long+`"}`), farmer))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("change password status = %d, want 400", rec.Code)
	}
	body.Fields = nil
	json.NewDecoder(rec.Body).Decode(&body)
	if _, ok := body.Fields["new_password"]; !ok {
		t.Errorf("missing new_password error in %v", body.Fields)
	}
}

func TestDuplicateEmailIsTranslated(t *testing.T) {
	_, gdb, _ := setup(t)
	farmer := dbtest.CreateFarmer(t, gdb, "Akua Sarpong")

	err := gdb.Create(&models.User{FullName: "Copy", Email: farmer.Email, Role: models.RoleFarmer}).Error
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Errorf("duplicate insert error = %v, want gorm.ErrDuplicatedKey", err)
	}
}
