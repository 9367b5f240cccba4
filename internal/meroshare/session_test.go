package meroshare_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndewijer/nepseutils/internal/apperrors"
	"github.com/ndewijer/nepseutils/internal/meroshare"
	"github.com/ndewijer/nepseutils/internal/testutil"
)

func login(t *testing.T, s *meroshare.Session) {
	t.Helper()
	_, err := s.Login(context.Background(), meroshare.LoginRequest{ClientID: "171", Username: 12345678, Password: "pw"})
	require.NoError(t, err)
}

func session(portal *testutil.FakePortal) *meroshare.Session {
	return portal.Portal()().(*meroshare.Session)
}

// TestLogin covers token handling.
//
// WHY: Every authenticated call depends on the token captured from the login
// response header. Keeping a token after an expiry response would make the
// caller believe it is logged in.
func TestLogin(t *testing.T) {
	t.Run("stores the token from the Authorization header", func(t *testing.T) {
		portal := testutil.NewFakePortal(t)
		s := session(portal)

		login(t, s)

		assert.Equal(t, "token-1", s.Token())
	})

	t.Run("expiry flags are returned without a token", func(t *testing.T) {
		portal := testutil.NewFakePortal(t).WithLoginResponse(meroshare.LoginResponse{PasswordExpired: true})
		s := session(portal)

		resp, err := s.Login(context.Background(), meroshare.LoginRequest{ClientID: "171", Username: 12345678, Password: "pw"})

		require.NoError(t, err)
		assert.True(t, resp.PasswordExpired)
		assert.Empty(t, s.Token())
	})

	t.Run("rejected credentials are a status error", func(t *testing.T) {
		portal := testutil.NewFakePortal(t)
		s := session(portal)

		_, err := s.Login(context.Background(), meroshare.LoginRequest{ClientID: "171"})

		assert.ErrorIs(t, err, apperrors.ErrUnexpectedStatus)
		assert.Empty(t, s.Token())
	})

	t.Run("logout clears the token", func(t *testing.T) {
		portal := testutil.NewFakePortal(t)
		s := session(portal)
		login(t, s)

		require.NoError(t, s.Logout(context.Background()))

		assert.Empty(t, s.Token())
		assert.Equal(t, 1, portal.Calls(testutil.RouteLogout))
	})
}

// TestSessionExpiry verifies the 401 handling.
//
// WHY: The portal silently expires tokens. A 401 while holding a token must
// drop the token and be retryable, so that the next attempt logs in again
// instead of failing the whole operation.
func TestSessionExpiry(t *testing.T) {
	t.Run("401 with a token clears it and is transient", func(t *testing.T) {
		portal := testutil.NewFakePortal(t)
		s := session(portal)
		login(t, s)
		portal.ExpireToken()

		_, err := s.Banks(context.Background())

		assert.ErrorIs(t, err, apperrors.ErrSessionExpired)
		assert.True(t, apperrors.IsTransient(err))
		assert.Empty(t, s.Token())
	})

	t.Run("401 without a token is a plain status error", func(t *testing.T) {
		portal := testutil.NewFakePortal(t)
		s := session(portal)

		_, err := s.Banks(context.Background())

		assert.NotErrorIs(t, err, apperrors.ErrSessionExpired)
		assert.ErrorIs(t, err, apperrors.ErrUnexpectedStatus)
	})
}

func TestStatusErrors(t *testing.T) {
	t.Run("unexpected status is transient", func(t *testing.T) {
		portal := testutil.NewFakePortal(t).FailNext(testutil.RouteCapitals, 1)
		s := session(portal)

		_, err := s.Capitals(context.Background())

		assert.True(t, apperrors.IsTransient(err))
		assert.ErrorIs(t, err, apperrors.ErrUnexpectedStatus)
	})

	t.Run("transport failure is transient", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		s := meroshare.NewSession(meroshare.Options{BaseURL: url})

		_, err := s.Capitals(context.Background())

		assert.True(t, apperrors.IsTransient(err))
	})

	t.Run("undecodable body is transient", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, "not json")
		}))
		t.Cleanup(srv.Close)
		s := meroshare.NewSession(meroshare.Options{BaseURL: srv.URL})

		_, err := s.Capitals(context.Background())

		assert.True(t, apperrors.IsTransient(err))
	})
}

// TestSearchPaging verifies the paged report search reads every page.
//
// WHY: Accounts with long histories have more reports than one page holds.
// Stopping after the first page would silently drop older applications.
func TestSearchPaging(t *testing.T) {
	t.Run("walks all pages of applicable issues", func(t *testing.T) {
		var open []meroshare.ApplicableIssue
		for i := 0; i < 25; i++ {
			open = append(open, testutil.Applicable(fmt.Sprintf("S%02d", i), int64(100+i)))
		}
		portal := testutil.NewFakePortal(t).WithApplicable(open...)
		s := session(portal)
		login(t, s)

		issues, err := s.ApplicableIssues(context.Background())

		require.NoError(t, err)
		assert.Len(t, issues, 25)
		assert.Equal(t, 3, portal.Calls(testutil.RouteApplicable))
	})

	t.Run("active and migrated feeds hit different endpoints", func(t *testing.T) {
		portal := testutil.NewFakePortal(t).WithReports(
			[]meroshare.ApplicationReport{testutil.Report("ABC", 1, 11)},
			[]meroshare.ApplicationReport{testutil.Report("OLD", 2, 12), testutil.Report("OLDER", 3, 13)},
		)
		s := session(portal)
		login(t, s)

		active, err := s.ApplicationReports(context.Background(), true)
		require.NoError(t, err)
		migrated, err := s.ApplicationReports(context.Background(), false)
		require.NoError(t, err)

		assert.Len(t, active, 1)
		assert.Len(t, migrated, 2)
		assert.Equal(t, 1, portal.Calls(testutil.RouteActiveReports))
		assert.Equal(t, 1, portal.Calls(testutil.RouteMigrated))
	})
}

func TestApplicationDetail(t *testing.T) {
	portal := testutil.NewFakePortal(t).WithDetail(11, meroshare.ApplicationDetail{StatusName: "Alloted"})
	s := session(portal)
	login(t, s)

	t.Run("active form uses the detail endpoint", func(t *testing.T) {
		d, err := s.ApplicationDetail(context.Background(), 11, false)

		require.NoError(t, err)
		assert.Equal(t, "Alloted", d.StatusName)
		assert.Equal(t, 1, portal.Calls(testutil.RouteDetail))
	})

	t.Run("migrated form uses the migrated endpoint", func(t *testing.T) {
		_, err := s.ApplicationDetail(context.Background(), 11, true)

		require.NoError(t, err)
		assert.Equal(t, 1, portal.Calls(testutil.RouteMigratedDtl))
	})
}
