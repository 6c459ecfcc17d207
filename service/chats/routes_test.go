package chats

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KAsare1/agriconsult-server/cmd/models"
	"github.com/KAsare1/agriconsult-server/cmd/utils"
	"github.com/KAsare1/agriconsult-server/db/dbtest"
	"github.com/KAsare1/agriconsult-server/service/notifications"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type recordingHub struct {
	mu     sync.Mutex
	events map[uint][]string
}

func (h *recordingHub) Publish(userID uint, eventType string, _ interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.events == nil {
		h.events = make(map[uint][]string)
	}
	h.events[userID] = append(h.events[userID], eventType)
}

func (h *recordingHub) count(userID uint, eventType string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.events[userID] {
		if e == eventType {
			n++
		}
	}
	return n
}

type chatFixture struct {
	db     *gorm.DB
	router *mux.Router
	hub    *recordingHub
	expert *models.User
	farmer *models.User
	c      *models.Consultation
}

func newChatFixture(t *testing.T) *chatFixture {
	gdb := dbtest.New(t)
	f := &chatFixture{
		db:     gdb,
		hub:    &recordingHub{},
		expert: dbtest.CreateExpert(t, gdb, "Kojo Soil", 50),
		farmer: dbtest.CreateFarmer(t, gdb, "Ama Farmer"),
	}
	f.c = dbtest.CreateConsultation(t, gdb, f.farmer, f.expert, time.Now().Add(time.Hour), models.StatusAccepted)

	notifier := notifications.NewNotifier(gdb, zerolog.Nop(), f.hub, nil, nil)
	f.router = mux.NewRouter()
	NewChatHandler(gdb, notifier, utils.NewUploader(t.TempDir()), zerolog.Nop()).RegisterRoutes(f.router)
	return f
}

func (f *chatFixture) do(method, target, body string, user *models.User) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = dbtest.NewRequest(method, target, nil, user)
	} else {
		req = dbtest.NewRequest(method, target, strings.NewReader(body), user)
	}
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *chatFixture) send(t *testing.T, user *models.User, text string) models.Message {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"message": text})
	rec := f.do(http.MethodPost, fmt.Sprintf("/consultations/%d/messages", f.c.ID), string(body), user)
	if rec.Code != http.StatusCreated {
		t.Fatalf("send: status = %d (%s)", rec.Code, rec.Body.String())
	}
	var resp struct {
		Data models.Message `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.Data
}

func (f *chatFixture) messages(t *testing.T, user *models.User, query string) []models.Message {
	t.Helper()
	rec := f.do(http.MethodGet, fmt.Sprintf("/consultations/%d/messages%s", f.c.ID, query), "", user)
	if rec.Code != http.StatusOK {
		t.Fatalf("get messages: status = %d (%s)", rec.Code, rec.Body.String())
	}
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.Messages
}

func (f *chatFixture) unread(t *testing.T, user *models.User) (int64, map[string]int64) {
	t.Helper()
	rec := f.do(http.MethodGet, "/unread-counts", "", user)
	if rec.Code != http.StatusOK {
		t.Fatalf("unread: status = %d (%s)", rec.Code, rec.Body.String())
	}
	var resp struct {
		Total         int64            `json:"total"`
		Consultations map[string]int64 `json:"consultations"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.Total, resp.Consultations
}

func TestSendAndReadMessages(t *testing.T) {
	f := newChatFixture(t)

	first := f.send(t, f.farmer, "My maize leaves have brown spots")
	second := f.send(t, f.farmer, "Call me on 024 123 4567")
	if first.Filtered || !second.Filtered || second.Content != "Call me on [hidden]" {
		t.Errorf("filtering: first=%v second=%v %q", first.Filtered, second.Filtered, second.Content)
	}

	if got := f.hub.count(f.expert.ID, EventNewMessage); got != 2 {
		t.Errorf("expert new_message events = %d, want 2", got)
	}
	var notified int64
	f.db.Model(&models.Notification{}).Where("user_id = ? AND type = ?", f.expert.ID, models.NotifNewMessage).Count(&notified)
	if notified != 2 {
		t.Errorf("new_message notifications = %d, want 2", notified)
	}

	total, counts := f.unread(t, f.expert)
	if total != 2 || counts[fmt.Sprint(f.c.ID)] != 2 {
		t.Errorf("expert unread = %d %v, want 2", total, counts)
	}
	if total, _ := f.unread(t, f.farmer); total != 0 {
		t.Errorf("own messages counted as unread: %d", total)
	}

	// The sender fetching does not mark its own messages read.
	f.messages(t, f.farmer, "")
	if total, _ := f.unread(t, f.expert); total != 2 {
		t.Errorf("unread after sender fetch = %d, want 2", total)
	}

	list := f.messages(t, f.expert, "")
	if len(list) != 2 || list[0].ID != first.ID || list[1].ID != second.ID {
		t.Fatalf("messages = %+v, want first then second", list)
	}
	if total, _ := f.unread(t, f.expert); total != 0 {
		t.Errorf("unread after expert fetch = %d, want 0", total)
	}
	if got := f.hub.count(f.farmer.ID, EventMessagesRead); got != 1 {
		t.Errorf("farmer messages_read events = %d, want 1", got)
	}

	reply := f.send(t, f.expert, "Send a photo of the affected plants")
	since := f.messages(t, f.farmer, fmt.Sprintf("?since=%d", second.ID))
	if len(since) != 1 || since[0].ID != reply.ID {
		t.Errorf("since = %+v, want only the reply", since)
	}
}

func TestSendMessageRules(t *testing.T) {
	f := newChatFixture(t)
	stranger := dbtest.CreateFarmer(t, f.db, "Yaa Stranger")
	target := fmt.Sprintf("/consultations/%d/messages", f.c.ID)

	if rec := f.do(http.MethodPost, target, `{"message":"   "}`, f.farmer); rec.Code != http.StatusBadRequest {
		t.Errorf("empty message: status = %d, want 400", rec.Code)
	}
	if rec := f.do(http.MethodPost, target, `{"message":"hello"}`, stranger); rec.Code != http.StatusForbidden {
		t.Errorf("stranger: status = %d, want 403", rec.Code)
	}
	if rec := f.do(http.MethodGet, target, "", stranger); rec.Code != http.StatusForbidden {
		t.Errorf("stranger read: status = %d, want 403", rec.Code)
	}
	if rec := f.do(http.MethodPost, "/consultations/9999/messages", `{"message":"hello"}`, f.farmer); rec.Code != http.StatusNotFound {
		t.Errorf("missing consultation: status = %d, want 404", rec.Code)
	}

	f.db.Model(f.c).Update("status", models.StatusCancelled)
	if rec := f.do(http.MethodPost, target, `{"message":"hello"}`, f.farmer); rec.Code != http.StatusConflict {
		t.Errorf("cancelled consultation: status = %d, want 409", rec.Code)
	}
	if rec := f.do(http.MethodGet, target, "", f.farmer); rec.Code != http.StatusOK {
		t.Errorf("history of a cancelled consultation: status = %d, want 200", rec.Code)
	}
}

func TestSendFileMessage(t *testing.T) {
	f := newChatFixture(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("message", "Leaf close-up")
	part, _ := mw.CreateFormFile("file", "leaf.jpg")
	part.Write([]byte("\xff\xd8\xff fake jpeg"))
	mw.Close()

	req := dbtest.NewRequest(http.MethodPost, fmt.Sprintf("/consultations/%d/messages", f.c.ID), &body, f.farmer)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload: status = %d (%s)", rec.Code, rec.Body.String())
	}

	var resp struct {
		Data models.Message `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	msg := resp.Data
	if msg.MessageType != models.MessageImage || msg.FileName != "leaf.jpg" || msg.Content != "Leaf close-up" {
		t.Errorf("message = %+v", msg)
	}
	if !strings.HasPrefix(msg.FileURL, "/uploads/images/") {
		t.Errorf("file url = %q", msg.FileURL)
	}
}

func TestDeleteMessage(t *testing.T) {
	f := newChatFixture(t)
	msg := f.send(t, f.farmer, "Wrong consultation, sorry")
	target := fmt.Sprintf("/messages/%d", msg.ID)

	if rec := f.do(http.MethodDelete, target, "", f.expert); rec.Code != http.StatusForbidden {
		t.Errorf("delete by recipient: status = %d, want 403", rec.Code)
	}
	for i := 0; i < 2; i++ {
		if rec := f.do(http.MethodDelete, target, "", f.farmer); rec.Code != http.StatusOK {
			t.Errorf("delete #%d: status = %d, want 200", i+1, rec.Code)
		}
	}
	if got := f.hub.count(f.expert.ID, EventMessageDeleted); got != 1 {
		t.Errorf("message_deleted events = %d, want 1", got)
	}

	list := f.messages(t, f.expert, "")
	if len(list) != 1 || !list[0].Deleted || list[0].Content != models.DeletedMessageText {
		t.Errorf("messages = %+v, want one deleted placeholder", list)
	}
	if total, _ := f.unread(t, f.expert); total != 0 {
		t.Errorf("deleted message counted as unread: %d", total)
	}
}

func TestMarkRead(t *testing.T) {
	f := newChatFixture(t)
	f.send(t, f.farmer, "Is the soil test ready?")
	f.send(t, f.farmer, "I can send photos too")
	f.send(t, f.expert, "Yes, results attached tomorrow")

	target := fmt.Sprintf("/consultations/%d/messages/read", f.c.ID)
	outsider := dbtest.CreateFarmer(t, f.db, "Kwame Outsider")
	if rec := f.do(http.MethodPut, target, "", outsider); rec.Code != http.StatusForbidden {
		t.Errorf("outsider status = %d, want 403", rec.Code)
	}

	rec := f.do(http.MethodPut, target, "", f.expert)
	if rec.Code != http.StatusOK {
		t.Fatalf("mark read: status = %d (%s)", rec.Code, rec.Body.String())
	}
	var resp struct {
		Updated int64 `json:"updated"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Updated != 2 {
		t.Errorf("updated = %d, want 2", resp.Updated)
	}
	if got := f.hub.count(f.farmer.ID, EventMessagesRead); got != 1 {
		t.Errorf("farmer messages_read events = %d, want 1", got)
	}
	if total, _ := f.unread(t, f.expert); total != 0 {
		t.Errorf("expert unread = %d, want 0", total)
	}
	if total, _ := f.unread(t, f.farmer); total != 1 {
		t.Errorf("farmer unread = %d, want 1", total)
	}

	rec = f.do(http.MethodPut, target, "", f.expert)
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if rec.Code != http.StatusOK || resp.Updated != 0 {
		t.Errorf("second mark read: status = %d updated = %d", rec.Code, resp.Updated)
	}
	if got := f.hub.count(f.farmer.ID, EventMessagesRead); got != 1 {
		t.Errorf("messages_read republished: %d", got)
	}
}
