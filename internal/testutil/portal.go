package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/ndewijer/nepseutils/internal/meroshare"
)

// Route names used by FailNext and Calls.
const (
	RouteCapitals      = "capitals"
	RouteLogin         = "login"
	RouteLogout        = "logout"
	RouteOwnDetail     = "own_detail"
	RouteBankRequest   = "bank_request"
	RouteBanks         = "banks"
	RouteBankDetail    = "bank_detail"
	RouteApplicable    = "applicable"
	RouteActiveReports = "active_reports"
	RouteMigrated      = "migrated_reports"
	RouteDetail        = "detail"
	RouteMigratedDtl   = "migrated_detail"
	RoutePortfolio     = "portfolio"
	RouteMinUnit       = "min_unit"
	RouteApply         = "apply"
	RouteEDIS          = "edis"
)

// FakePortal is an in-process MeroShare backend for tests. It keeps the
// state an account mutates (token, applied issues) and counts calls per
// route. Behaviour is configured with the With* builders before use.
type FakePortal struct {
	Server *httptest.Server

	mu         sync.Mutex
	capitals   []meroshare.Capital
	loginResp  meroshare.LoginResponse
	ownDetail  meroshare.OwnDetail
	bankAcct   meroshare.BankRequest
	banks      []meroshare.Bank
	bankDetail meroshare.BankDetail
	applicable []meroshare.ApplicableIssue
	active     []meroshare.ApplicationReport
	migrated   []meroshare.ApplicationReport
	details    map[int64]meroshare.ApplicationDetail
	portfolio  meroshare.PortfolioResponse
	minUnit    meroshare.MinUnit
	edis       []meroshare.EDISRecord

	token       string
	issued      int
	failures    map[string]int
	lostApplies int
	calls       map[string]int
	applies     []meroshare.ApplyRequest
	loginGate   chan struct{}
	heldLogins  int
}

// NewFakePortal starts a fake portal seeded with one capital, one account
// profile and one linked bank. The server is closed on test cleanup.
func NewFakePortal(t *testing.T) *FakePortal {
	t.Helper()

	f := &FakePortal{
		capitals:   []meroshare.Capital{{ID: 171, Code: "13700", Name: "Test Capital Ltd"}},
		ownDetail:  meroshare.OwnDetail{Name: "Test Investor", Demat: TestDemat, BankCode: "1234"},
		bankAcct:   meroshare.BankRequest{AccountNumber: "00112233445566", BankName: "Test Bank"},
		banks:      []meroshare.Bank{{ID: 44, Code: "1234", Name: "Test Bank"}},
		bankDetail: meroshare.BankDetail{ID: 5555, AccountBranchID: 66, AccountNumber: "00112233445566", BranchName: "Main"},
		details:    make(map[int64]meroshare.ApplicationDetail),
		minUnit:    meroshare.MinUnit{MinUnit: 10, MaxUnit: 1000},
		failures:   make(map[string]int),
		calls:      make(map[string]int),
	}
	f.Server = httptest.NewServer(f.router())
	t.Cleanup(f.Server.Close)
	return f
}

// URL is the base URL to hand to meroshare.Options.
func (f *FakePortal) URL() string { return f.Server.URL }

// Portal returns a factory of sessions bound to this fake.
func (f *FakePortal) Portal() func() meroshare.Portal {
	return func() meroshare.Portal {
		return meroshare.NewSession(meroshare.Options{BaseURL: f.URL(), HTTPClient: f.Server.Client()})
	}
}

// WithCapitals replaces the capital listing.
func (f *FakePortal) WithCapitals(c ...meroshare.Capital) *FakePortal {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.capitals = c
	return f
}

// WithLoginResponse sets the body returned by login, e.g. expiry flags.
func (f *FakePortal) WithLoginResponse(r meroshare.LoginResponse) *FakePortal {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginResp = r
	return f
}

// WithBanks replaces the linked bank list.
func (f *FakePortal) WithBanks(b ...meroshare.Bank) *FakePortal {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.banks = b
	return f
}

// WithApplicable sets the open issues.
func (f *FakePortal) WithApplicable(issues ...meroshare.ApplicableIssue) *FakePortal {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applicable = issues
	return f
}

// WithReports sets the active and migrated application reports.
func (f *FakePortal) WithReports(active, migrated []meroshare.ApplicationReport) *FakePortal {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active, f.migrated = active, migrated
	return f
}

// WithDetail sets the application detail returned for a form id.
func (f *FakePortal) WithDetail(formID int64, d meroshare.ApplicationDetail) *FakePortal {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.details[formID] = d
	return f
}

// WithPortfolio sets the holdings response.
func (f *FakePortal) WithPortfolio(p meroshare.PortfolioResponse) *FakePortal {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.portfolio = p
	return f
}

// WithMinUnit sets the min unit response.
func (f *FakePortal) WithMinUnit(min int64) *FakePortal {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.minUnit = meroshare.MinUnit{MinUnit: min, MaxUnit: min * 100}
	return f
}

// WithEDIS sets the EDIS history.
func (f *FakePortal) WithEDIS(records ...meroshare.EDISRecord) *FakePortal {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edis = records
	return f
}

// FailNext makes the next n calls to route answer 500.
func (f *FakePortal) FailNext(route string, n int) *FakePortal {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[route] = n
	return f
}

// LoseNextApplies accepts the next n applications but answers 500, as if
// the response was lost on the way back.
func (f *FakePortal) LoseNextApplies(n int) *FakePortal {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lostApplies = n
	return f
}

// HoldLogins makes login requests wait until the returned release func is
// called. Release is safe to call more than once.
func (f *FakePortal) HoldLogins() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.loginGate = gate
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { close(gate) })
	}
}

// HeldLogins returns how many login requests have waited on HoldLogins.
func (f *FakePortal) HeldLogins() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heldLogins
}

// ExpireToken invalidates the current token so the next authenticated
// call answers 401.
func (f *FakePortal) ExpireToken() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = ""
}

// Calls returns how many requests reached route.
func (f *FakePortal) Calls(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[route]
}

// Applies returns every accepted application.
func (f *FakePortal) Applies() []meroshare.ApplyRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]meroshare.ApplyRequest(nil), f.applies...)
}

func (f *FakePortal) router() http.Handler {
	r := chi.NewRouter()

	r.Get("/meroShare/capital/", f.handle(RouteCapitals, false, func(_ *http.Request) (int, any) {
		return http.StatusOK, f.capitals
	}))
	r.Post("/meroShare/auth/", f.login)

	r.Group(func(r chi.Router) {
		r.Get("/meroShare/auth/logout/", f.handle(RouteLogout, true, func(_ *http.Request) (int, any) {
			f.token = ""
			return http.StatusCreated, nil
		}))
		r.Get("/meroShareView/myDetail/{demat}", f.handle(RouteOwnDetail, true, func(_ *http.Request) (int, any) {
			return http.StatusOK, f.ownDetail
		}))
		r.Get("/bankRequest/{code}", f.handle(RouteBankRequest, true, func(_ *http.Request) (int, any) {
			return http.StatusOK, f.bankAcct
		}))
		r.Get("/meroShare/bank/", f.handle(RouteBanks, true, func(_ *http.Request) (int, any) {
			return http.StatusOK, f.banks
		}))
		r.Get("/meroShare/bank/{id}", f.handle(RouteBankDetail, true, func(_ *http.Request) (int, any) {
			return http.StatusOK, f.bankDetail
		}))
		r.Post("/meroShare/companyShare/applicableIssue/", f.handle(RouteApplicable, true, func(req *http.Request) (int, any) {
			return http.StatusOK, page(req, f.applicable)
		}))
		r.Post("/meroShare/applicantForm/active/search/", f.handle(RouteActiveReports, true, func(req *http.Request) (int, any) {
			return http.StatusOK, page(req, f.active)
		}))
		r.Post("/meroShare/migrated/applicantForm/search/", f.handle(RouteMigrated, true, func(req *http.Request) (int, any) {
			return http.StatusOK, page(req, f.migrated)
		}))
		r.Get("/meroShare/applicantForm/report/detail/{id}", f.handle(RouteDetail, true, f.detail))
		r.Get("/meroShare/migrated/applicantForm/report/{id}", f.handle(RouteMigratedDtl, true, f.detail))
		r.Post("/meroShareView/myPortfolio/", f.handle(RoutePortfolio, true, func(_ *http.Request) (int, any) {
			return http.StatusOK, f.portfolio
		}))
		r.Get("/meroShare/active/{id}", f.handle(RouteMinUnit, true, func(_ *http.Request) (int, any) {
			return http.StatusOK, f.minUnit
		}))
		r.Post("/meroShare/applicantForm/share/apply", f.handle(RouteApply, true, f.apply))
		r.Post("/EDIS/report/search/", f.handle(RouteEDIS, true, func(req *http.Request) (int, any) {
			return http.StatusOK, page(req, f.edis)
		}))
	})
	return r
}

// handle wraps a route with call counting, injected failures and, when
// authed is set, bearer token checks. fn runs with the mutex held.
func (f *FakePortal) handle(route string, authed bool, fn func(*http.Request) (int, any)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls[route]++
		if f.failures[route] > 0 {
			f.failures[route]--
			f.mu.Unlock()
			http.Error(w, `{"message":"internal error"}`, http.StatusInternalServerError)
			return
		}
		if authed && (f.token == "" || r.Header.Get("Authorization") != f.token) {
			f.mu.Unlock()
			http.Error(w, `{"message":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		status, body := fn(r)
		f.mu.Unlock()

		writeJSON(w, status, body)
	}
}

func (f *FakePortal) login(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	gate := f.loginGate
	if gate != nil {
		f.heldLogins++
	}
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.handle(RouteLogin, false, func(req *http.Request) (int, any) {
		var body meroshare.LoginRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Username == 0 || body.Password == "" {
			return http.StatusBadRequest, map[string]string{"message": "invalid credentials"}
		}
		resp := f.loginResp
		if resp.PasswordExpired || resp.AccountExpired || resp.DematExpired {
			return http.StatusOK, resp
		}
		f.issued++
		f.token = fmt.Sprintf("token-%d", f.issued)
		return http.StatusOK, resp
	})(&authHeaderWriter{ResponseWriter: w, f: f}, r)
}

// authHeaderWriter adds the freshly issued token to the login response.
type authHeaderWriter struct {
	http.ResponseWriter
	f *FakePortal
}

func (w *authHeaderWriter) WriteHeader(status int) {
	if status == http.StatusOK {
		w.f.mu.Lock()
		if w.f.token != "" {
			w.Header().Set("Authorization", w.f.token)
		}
		w.f.mu.Unlock()
	}
	w.ResponseWriter.WriteHeader(status)
}

func (f *FakePortal) detail(r *http.Request) (int, any) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return http.StatusBadRequest, nil
	}
	d, ok := f.details[id]
	if !ok {
		return http.StatusNotFound, map[string]string{"message": "not found"}
	}
	return http.StatusOK, d
}

func (f *FakePortal) apply(r *http.Request) (int, any) {
	var req meroshare.ApplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return http.StatusBadRequest, nil
	}
	shareID, _ := strconv.ParseInt(req.CompanyShareID, 10, 64)

	found := false
	for i := range f.applicable {
		if f.applicable[i].CompanyShareID == shareID {
			if f.applicable[i].Action != "" {
				return http.StatusConflict, map[string]string{"message": "already applied"}
			}
			f.applicable[i].Action = "edit"
			found = true
		}
	}
	if !found {
		return http.StatusNotFound, map[string]string{"message": "issue not found"}
	}
	f.applies = append(f.applies, req)

	if f.lostApplies > 0 {
		f.lostApplies--
		return http.StatusInternalServerError, nil
	}
	return http.StatusCreated, meroshare.ApplyResult{Status: meroshare.StatusCreated, Message: "Share has been applied successfully."}
}

// page slices items by the page and size of a search request body.
func page[T any](r *http.Request, items []T) map[string]any {
	var req meroshare.SearchRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Size <= 0 {
		req.Size = len(items)
	}
	if req.Page < 1 {
		req.Page = 1
	}
	start := min((req.Page-1)*req.Size, len(items))
	end := min(start+req.Size, len(items))
	return map[string]any{
		"object":     append([]T{}, items[start:end]...),
		"totalCount": len(items),
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}
