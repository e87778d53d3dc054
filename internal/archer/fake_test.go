package archer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/grcgate/grcgate/internal/config"
)

// fakeArcher serves the subset of the Archer REST API the client uses
type fakeArcher struct {
	t      *testing.T
	server *httptest.Server

	logins       atomic.Int32
	contentCalls atomic.Int32
	loginDelay   time.Duration
	appDelay     time.Duration
	appCalls     atomic.Int32
	rejectLogin  bool

	mu            sync.Mutex
	validTokens   map[string]bool
	apps          []Application
	levels        map[int][]Level
	fields        map[int][]Field
	records       map[int][]map[string]any
	contentStatus map[int]int
	failContent   int32 // number of content calls answered with 503
	lastQuery     map[string]string
}

func newFakeArcher(t *testing.T) *fakeArcher {
	f := &fakeArcher{
		t:             t,
		validTokens:   make(map[string]bool),
		levels:        make(map[int][]Level),
		fields:        make(map[int][]Field),
		records:       make(map[int][]map[string]any),
		contentStatus: make(map[int]int),
	}
	f.apps = []Application{
		{ID: 75, Name: "Risk Register", Alias: "Risk_Register"},
		{ID: 76, Name: "Policies", Alias: "Policies"},
		{ID: 77, Name: "Findings", Alias: "Findings"},
		{ID: 78, Name: "Vendor Risk Assessments", Alias: "Vendor_Risk"},
	}
	f.levels[75] = []Level{{ID: 151, Name: "Risk Register", ModuleID: 75}}
	f.fields[151] = []Field{
		{ID: 1, Name: "Risk ID", Alias: "Risk_ID", LevelID: 151},
		{ID: 2, Name: "Risk Title", Alias: "Risk_Title", LevelID: 151},
		{ID: 3, Name: "Financial Impact", Alias: "Fin_Impact", LevelID: 151},
		{ID: 4, Name: "Due Date", Alias: "Due_Dt", LevelID: 151},
		{ID: 5, Name: "Description", Alias: "Desc_Txt", LevelID: 151},
	}
	f.records[75] = []map[string]any{
		{"Risk_ID": 2, "Risk_Title": "Vendor outage", "Fin_Impact": 1234.5, "Due_Dt": "2024-06-30", "Desc_Txt": "<p>Line one<br/>Line &amp; two</p>"},
		{"Risk_ID": 1, "Risk_Title": "Data loss", "Fin_Impact": 98000, "Due_Dt": "2024-07-01T14:30:00Z", "Desc_Txt": "plain"},
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeArcher) connection() *config.ArcherConnection {
	return &config.ArcherConnection{
		Name:           "prod",
		BaseURL:        f.server.URL,
		InstanceName:   "GRC",
		Username:       "svc-archer",
		Password:       "hunter2",
		TenantIDs:      []string{"tenant-acme"},
		RequestTimeout: config.Duration(2 * time.Second),
		MaxAttempts:    3,
	}
}

// expireTokens makes Archer reject every session issued so far
func (f *fakeArcher) expireTokens() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validTokens = make(map[string]bool)
}

func (f *fakeArcher) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == loginPath {
		f.handleLogin(w, r)
		return
	}

	token := strings.TrimSuffix(strings.TrimPrefix(r.Header.Get("Authorization"), `Archer session-id="`), `"`)
	f.mu.Lock()
	ok := f.validTokens[token]
	f.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch {
	case r.URL.Path == applicationPath:
		f.appCalls.Add(1)
		if f.appDelay > 0 {
			time.Sleep(f.appDelay)
		}
		var out []envelope[Application]
		for _, app := range f.apps {
			out = append(out, envelope[Application]{RequestedObject: app, IsSuccessful: true})
		}
		writeJSON(w, out)
	case strings.HasPrefix(r.URL.Path, "/api/core/system/level/module/"):
		id, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/api/core/system/level/module/"))
		levels, ok := f.levels[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var out []envelope[Level]
		for _, l := range levels {
			out = append(out, envelope[Level]{RequestedObject: l, IsSuccessful: true})
		}
		writeJSON(w, out)
	case strings.HasPrefix(r.URL.Path, "/api/core/system/level/") && strings.HasSuffix(r.URL.Path, "/field"):
		id, _ := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/core/system/level/"), "/field"))
		var out []envelope[Field]
		for _, fl := range f.fields[id] {
			out = append(out, envelope[Field]{RequestedObject: fl, IsSuccessful: true})
		}
		writeJSON(w, out)
	case r.URL.Path == contentPath:
		f.handleContent(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeArcher) handleLogin(w http.ResponseWriter, r *http.Request) {
	n := f.logins.Add(1)
	if f.loginDelay > 0 {
		time.Sleep(f.loginDelay)
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if f.rejectLogin || req.Password != "hunter2" {
		writeJSON(w, envelope[loginResult]{
			IsSuccessful:       false,
			ValidationMessages: []validationMessage{{Reason: "InvalidCredentials"}},
		})
		return
	}
	token := "session-" + strconv.Itoa(int(n))
	f.mu.Lock()
	f.validTokens[token] = true
	f.mu.Unlock()
	writeJSON(w, envelope[loginResult]{RequestedObject: loginResult{SessionToken: token, UserID: 7}, IsSuccessful: true})
}

func (f *fakeArcher) handleContent(w http.ResponseWriter, r *http.Request) {
	call := f.contentCalls.Add(1)
	if call <= f.failContent {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query()
	f.mu.Lock()
	f.lastQuery = map[string]string{
		"ApplicationId": q.Get("ApplicationId"),
		"$top":          q.Get("$top"),
		"$skip":         q.Get("$skip"),
		"$orderby":      q.Get("$orderby"),
	}
	f.mu.Unlock()

	appID, _ := strconv.Atoi(q.Get("ApplicationId"))
	if status, ok := f.contentStatus[appID]; ok {
		w.WriteHeader(status)
		return
	}
	all := f.records[appID]
	top, _ := strconv.Atoi(q.Get("$top"))
	skip, _ := strconv.Atoi(q.Get("$skip"))
	page := []map[string]any{}
	for i := skip; i < len(all) && len(page) < top; i++ {
		page = append(page, all[i])
	}
	writeJSON(w, map[string]any{"@odata.count": len(all), "value": page})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
