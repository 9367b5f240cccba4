// Package meroshare is the HTTP client for the MeroShare web backend.
// One Session carries one account's bearer token; the zero-token Session is
// enough for unauthenticated calls such as the capital listing.
package meroshare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/ndewijer/nepseutils/internal/apperrors"
)

// DefaultBaseURL is the MeroShare web backend.
const DefaultBaseURL = "https://webbackend.cdsc.com.np/api"

const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/104.0.0.0 Safari/537.36 Edg/104.0.1293.70"
	origin    = "https://meroshare.cdsc.com.np"

	reportPageSize     = 200
	applicablePageSize = 10
	portfolioPageSize  = 200
	maxPages           = 50
)

// Portal defines the portal operations an account performs.
// This interface enables dependency injection and testing with fakes.
type Portal interface {
	Token() string
	ClearToken()

	Capitals(ctx context.Context) ([]Capital, error)
	Login(ctx context.Context, req LoginRequest) (LoginResponse, error)
	Logout(ctx context.Context) error
	OwnDetail(ctx context.Context, demat string) (OwnDetail, error)
	BankRequest(ctx context.Context, bankCode string) (BankRequest, error)
	Banks(ctx context.Context) ([]Bank, error)
	BankDetail(ctx context.Context, bankID int64) (BankDetail, error)
	ApplicableIssues(ctx context.Context) ([]ApplicableIssue, error)
	ApplicationReports(ctx context.Context, active bool) ([]ApplicationReport, error)
	ApplicationDetail(ctx context.Context, formID int64, migrated bool) (ApplicationDetail, error)
	Portfolio(ctx context.Context, demat, clientCode string) (PortfolioResponse, error)
	MinUnit(ctx context.Context, shareID int64) (MinUnit, error)
	Apply(ctx context.Context, req ApplyRequest) (ApplyResult, error)
	EDISHistory(ctx context.Context) ([]EDISRecord, error)
}

// Options configures a Session.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Log        zerolog.Logger
}

// Session is one account's connection to the portal.
type Session struct {
	baseURL    string
	httpClient *http.Client
	token      string
	log        zerolog.Logger
}

var _ Portal = (*Session)(nil)

// NewSession creates a session without a token.
func NewSession(opts Options) *Session {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Session{
		baseURL:    baseURL,
		httpClient: httpClient,
		log:        opts.Log.With().Str("component", "meroshare").Logger(),
	}
}

// Token returns the bearer token, empty when not logged in.
func (s *Session) Token() string { return s.token }

// ClearToken forgets the bearer token locally.
func (s *Session) ClearToken() { s.token = "" }

// Capitals lists every depository participant.
func (s *Session) Capitals(ctx context.Context) ([]Capital, error) {
	var out []Capital
	if err := s.do(ctx, "fetch capitals", http.MethodGet, "meroShare/capital/", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Login posts credentials. On success the token from the Authorization
// header is kept for later calls. Expiry flags are returned to the caller
// for classification.
func (s *Session) Login(ctx context.Context, req LoginRequest) (LoginResponse, error) {
	s.token = ""

	resp, body, err := s.send(ctx, "login", http.MethodPost, "meroShare/auth/", req)
	if err != nil {
		return LoginResponse{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return LoginResponse{}, apperrors.StatusError("login", resp.StatusCode, body)
	}

	var out LoginResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return LoginResponse{}, apperrors.Transient("login", fmt.Errorf("decode response: %w", err))
	}
	if out.PasswordExpired || out.AccountExpired || out.DematExpired {
		return out, nil
	}

	token := resp.Header.Get("Authorization")
	if token == "" {
		return out, apperrors.Transient("login", fmt.Errorf("no token in response"))
	}
	s.token = token
	return out, nil
}

// Logout invalidates the token server side and clears it locally.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.do(ctx, "logout", http.MethodGet, "meroShare/auth/logout/", nil, http.StatusCreated, nil); err != nil {
		return err
	}
	s.token = ""
	return nil
}

// OwnDetail fetches the demat holder's profile.
func (s *Session) OwnDetail(ctx context.Context, demat string) (OwnDetail, error) {
	var out OwnDetail
	err := s.do(ctx, "fetch account details", http.MethodGet, "meroShareView/myDetail/"+demat, nil, http.StatusOK, &out)
	return out, err
}

// BankRequest fetches the linked bank account for a bank code.
func (s *Session) BankRequest(ctx context.Context, bankCode string) (BankRequest, error) {
	var out BankRequest
	err := s.do(ctx, "fetch bank account", http.MethodGet, "bankRequest/"+bankCode, nil, http.StatusOK, &out)
	return out, err
}

// Banks lists the banks linked to the account.
func (s *Session) Banks(ctx context.Context) ([]Bank, error) {
	var out []Bank
	if err := s.do(ctx, "fetch banks", http.MethodGet, "meroShare/bank/", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// BankDetail fetches branch and customer ids for one bank.
func (s *Session) BankDetail(ctx context.Context, bankID int64) (BankDetail, error) {
	var out BankDetail
	path := "meroShare/bank/" + strconv.FormatInt(bankID, 10)
	err := s.do(ctx, "fetch bank detail", http.MethodGet, path, nil, http.StatusOK, &out)
	return out, err
}

// ApplicableIssues lists every issue currently open for application.
func (s *Session) ApplicableIssues(ctx context.Context) ([]ApplicableIssue, error) {
	req := SearchRequest{
		FilterFieldParams: []FilterField{
			{Key: "companyIssue.companyISIN.script", Alias: "Scrip"},
			{Key: "companyIssue.companyISIN.company.name", Alias: "Company Name"},
			{Key: "companyIssue.assignedToClient.name", Alias: "Issue Manager"},
		},
		Size:                    applicablePageSize,
		SearchRoleViewConstants: "VIEW_APPLICABLE_SHARE",
		FilterDateParams: []FilterDate{
			{Key: "minIssueOpenDate"},
			{Key: "maxIssueCloseDate"},
		},
	}
	return searchAll[ApplicableIssue](ctx, s, "fetch applicable issues", "meroShare/companyShare/applicableIssue/", req)
}

// ApplicationReports lists applications from the active or the migrated feed.
func (s *Session) ApplicationReports(ctx context.Context, active bool) ([]ApplicationReport, error) {
	role, path := "VIEW_APPLICANT_FORM_COMPLETE", "meroShare/applicantForm/active/search/"
	if !active {
		role, path = "VIEW", "meroShare/migrated/applicantForm/search/"
	}
	req := SearchRequest{
		FilterFieldParams: []FilterField{
			{Key: "companyShare.companyIssue.companyISIN.script", Alias: "Scrip"},
			{Key: "companyShare.companyIssue.companyISIN.company.name", Alias: "Company Name"},
		},
		Size:                    reportPageSize,
		SearchRoleViewConstants: role,
		FilterDateParams: []FilterDate{
			{Key: "appliedDate"},
			{Key: "appliedDate"},
		},
	}
	return searchAll[ApplicationReport](ctx, s, "fetch application reports", path, req)
}

// ApplicationDetail fetches the allotment detail of one applicant form.
func (s *Session) ApplicationDetail(ctx context.Context, formID int64, migrated bool) (ApplicationDetail, error) {
	path := "meroShare/applicantForm/report/detail/" + strconv.FormatInt(formID, 10)
	if migrated {
		path = "meroShare/migrated/applicantForm/report/" + strconv.FormatInt(formID, 10)
	}
	var out ApplicationDetail
	err := s.do(ctx, "fetch application detail", http.MethodGet, path, nil, http.StatusOK, &out)
	return out, err
}

// Portfolio fetches every holding of one demat, following pages.
func (s *Session) Portfolio(ctx context.Context, demat, clientCode string) (PortfolioResponse, error) {
	var all PortfolioResponse
	for page := 1; page <= maxPages; page++ {
		req := PortfolioRequest{
			SortBy:     "script",
			Demat:      []string{demat},
			ClientCode: clientCode,
			Page:       page,
			Size:       portfolioPageSize,
			SortAsc:    true,
		}
		var out PortfolioResponse
		if err := s.do(ctx, "fetch portfolio", http.MethodPost, "meroShareView/myPortfolio/", req, http.StatusOK, &out); err != nil {
			return PortfolioResponse{}, err
		}
		if page == 1 {
			all = out
		} else {
			all.Entries = append(all.Entries, out.Entries...)
		}
		if len(out.Entries) < portfolioPageSize || len(all.Entries) >= all.TotalItems {
			break
		}
	}
	return all, nil
}

// MinUnit fetches the minimum application quantity of an issue.
func (s *Session) MinUnit(ctx context.Context, shareID int64) (MinUnit, error) {
	var out MinUnit
	err := s.do(ctx, "fetch min unit", http.MethodGet, "meroShare/active/"+strconv.FormatInt(shareID, 10), nil, http.StatusOK, &out)
	return out, err
}

// Apply submits an application. Only 201 Created counts as success.
func (s *Session) Apply(ctx context.Context, req ApplyRequest) (ApplyResult, error) {
	var out ApplyResult
	err := s.do(ctx, "apply", http.MethodPost, "meroShare/applicantForm/share/apply", req, http.StatusCreated, &out)
	return out, err
}

// EDISHistory lists EDIS transfer requests.
func (s *Session) EDISHistory(ctx context.Context) ([]EDISRecord, error) {
	req := SearchRequest{
		FilterFieldParams: []FilterField{
			{Key: "requestStatus.name", Alias: "Status"},
			{Key: "contractObligationMap.obligation.settleId", Alias: "Settlement Id"},
			{Key: "contractObligationMap.obligation.scriptCode", Alias: "Script"},
			{Key: "contractObligationMap.obligation.sellCmId", Alias: "CM ID", Condition: "': '"},
		},
		Size:                    reportPageSize,
		SearchRoleViewConstants: "VIEW",
		FilterDateParams: []FilterDate{
			{Key: "contractObligationMap.obligation.settleDate"},
			{Key: "contractObligationMap.obligation.settleDate"},
			{Key: "requestedDate"},
			{Key: "requestedDate"},
		},
	}
	return searchAll[EDISRecord](ctx, s, "fetch edis history", "EDIS/report/search/", req)
}

// searchAll walks a paged search endpoint until totalCount rows are read
// or a short page is returned.
func searchAll[T any](ctx context.Context, s *Session, op, path string, req SearchRequest) ([]T, error) {
	var all []T
	for page := 1; page <= maxPages; page++ {
		req.Page = page
		var out searchPage[T]
		if err := s.do(ctx, op, http.MethodPost, path, req, http.StatusOK, &out); err != nil {
			return nil, err
		}
		all = append(all, out.Object...)
		if len(out.Object) < req.Size || len(all) >= out.TotalCount {
			break
		}
	}
	return all, nil
}

// do sends a request, checks the status code and decodes the body into out
// when out is non-nil.
func (s *Session) do(ctx context.Context, op, method, path string, in any, want int, out any) error {
	resp, body, err := s.send(ctx, op, method, path, in)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized && s.token != "" {
		s.token = ""
		return apperrors.Transient(op, apperrors.ErrSessionExpired)
	}
	if resp.StatusCode != want {
		s.log.Warn().
			Str("op", op).
			Int("status", resp.StatusCode).
			Msg("Unexpected portal response")
		return apperrors.StatusError(op, resp.StatusCode, body)
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperrors.Transient(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// send executes the HTTP round trip and reads the whole body. Transport
// failures are transient.
func (s *Session) send(ctx context.Context, op, method, path string, in any) (*http.Response, []byte, error) {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: encode request: %w", op, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+"/"+path, reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Origin", origin)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	if s.token != "" {
		req.Header.Set("Authorization", s.token)
	} else {
		req.Header.Set("Authorization", "null")
	}

	s.log.Debug().Str("op", op).Str("method", method).Str("path", path).Msg("Portal request")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, nil, apperrors.Transient(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, apperrors.Transient(op, fmt.Errorf("read response: %w", err))
	}
	return resp, body, nil
}
