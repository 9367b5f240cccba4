package meroshare

import "github.com/shopspring/decimal"

// Capital is one depository participant in the capital listing.
type Capital struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// LoginRequest is the body of POST meroShare/auth/.
type LoginRequest struct {
	ClientID string `json:"clientId"`
	Username int64  `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the expiry flags returned with a successful login.
type LoginResponse struct {
	StatusCode      int    `json:"statusCode"`
	Message         string `json:"message"`
	PasswordExpired bool   `json:"passwordExpired"`
	AccountExpired  bool   `json:"accountExpired"`
	DematExpired    bool   `json:"dematExpired"`
	ChangePassword  bool   `json:"changePassword"`
}

// OwnDetail is the response of meroShareView/myDetail/{demat}.
type OwnDetail struct {
	Name     string `json:"name"`
	Demat    string `json:"demat"`
	BankCode string `json:"bankCode"`
	Email    string `json:"email"`
	Contact  string `json:"contact"`
}

// BankRequest is the response of bankRequest/{bankCode}.
type BankRequest struct {
	AccountNumber string `json:"accountNumber"`
	BankName      string `json:"bankName"`
}

// Bank is one entry of meroShare/bank/.
type Bank struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// BankDetail is the response of meroShare/bank/{id}.
type BankDetail struct {
	ID              int64  `json:"id"`
	AccountBranchID int64  `json:"accountBranchId"`
	AccountNumber   string `json:"accountNumber"`
	BranchName      string `json:"branchName"`
}

// ApplicableIssue is one open issue from the applicable-issue search.
// Action is set by the portal once the account has applied.
type ApplicableIssue struct {
	CompanyShareID int64  `json:"companyShareId"`
	CompanyName    string `json:"companyName"`
	Scrip          string `json:"scrip"`
	ShareTypeName  string `json:"shareTypeName"`
	ShareGroupName string `json:"shareGroupName"`
	SubGroup       string `json:"subGroup"`
	IssueOpenDate  string `json:"issueOpenDate"`
	IssueCloseDate string `json:"issueCloseDate"`
	StatusName     string `json:"statusName"`
	Action         string `json:"action,omitempty"`
}

// ApplicationReport is one row of the active or migrated report search.
type ApplicationReport struct {
	CompanyShareID  int64  `json:"companyShareId"`
	ApplicantFormID int64  `json:"applicantFormId"`
	CompanyName     string `json:"companyName"`
	Scrip           string `json:"scrip"`
	ShareTypeName   string `json:"shareTypeName"`
	ShareGroupName  string `json:"shareGroupName"`
	StatusName      string `json:"statusName"`
}

// ApplicationDetail is the allotment detail of one applicant form.
type ApplicationDetail struct {
	StatusName      string          `json:"statusName"`
	ReasonOrRemark  string          `json:"reasonOrRemark"`
	MeroshareRemark string          `json:"meroshareRemark"`
	AppliedDate     string          `json:"appliedDate"`
	AppliedKitta    decimal.Decimal `json:"appliedKitta"`
	ReceivedKitta   decimal.Decimal `json:"receivedKitta"`
	Amount          decimal.Decimal `json:"amount"`
}

// PortfolioResponse is the response of meroShareView/myPortfolio/.
type PortfolioResponse struct {
	Entries                            []PortfolioItem `json:"meroShareMyPortfolio"`
	TotalItems                         int             `json:"totalItems"`
	TotalValueAsOfLastTransactionPrice decimal.Decimal `json:"totalValueAsOfLastTransactionPrice"`
	TotalValueAsOfPreviousClosingPrice decimal.Decimal `json:"totalValueAsOfPreviousClosingPrice"`
}

// PortfolioItem is one holding; the portal sends numbers as strings.
type PortfolioItem struct {
	Script                        string          `json:"script"`
	ScriptDesc                    string          `json:"scriptDesc"`
	CurrentBalance                decimal.Decimal `json:"currentBalance"`
	LastTransactionPrice          decimal.Decimal `json:"lastTransactionPrice"`
	PreviousClosingPrice          decimal.Decimal `json:"previousClosingPrice"`
	ValueAsOfLastTransactionPrice decimal.Decimal `json:"valueAsOfLastTransactionPrice"`
	ValueAsOfPreviousClosingPrice decimal.Decimal `json:"valueAsOfPreviousClosingPrice"`
}

// MinUnit is the response of meroShare/active/{shareID}.
type MinUnit struct {
	MinUnit int64 `json:"minUnit"`
	MaxUnit int64 `json:"maxUnit"`
}

// ApplyRequest is the body of meroShare/applicantForm/share/apply.
type ApplyRequest struct {
	Demat           string `json:"demat"`
	BOID            string `json:"boid"`
	AccountNumber   string `json:"accountNumber"`
	CustomerID      int64  `json:"customerId"`
	AccountBranchID int64  `json:"accountBranchId"`
	AppliedKitta    string `json:"appliedKitta"`
	CRNNumber       string `json:"crnNumber"`
	TransactionPIN  int    `json:"transactionPIN"`
	CompanyShareID  string `json:"companyShareId"`
	BankID          int64  `json:"bankId"`
}

// ApplyResult is the portal's answer to an application, or the synthetic
// result returned when the issue was already applied.
type ApplyResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// StatusCreated is the ApplyResult status of a successful application.
const StatusCreated = "CREATED"

// EDISRecord is one row of the EDIS transfer report.
type EDISRecord struct {
	StatusName    string `json:"statusName"`
	RequestedDate string `json:"requestedDate"`
	Contract      struct {
		Obligation struct {
			ScriptCode string `json:"scriptCode"`
			SettleID   string `json:"settleId"`
			SettleDate string `json:"settleDate"`
			Quantity   int64  `json:"quantity"`
		} `json:"obligation"`
	} `json:"contract"`
}

// FilterField and FilterDate make up the portal's search request envelope.
type FilterField struct {
	Key       string `json:"key"`
	Alias     string `json:"alias"`
	Value     string `json:"value,omitempty"`
	Condition string `json:"condition,omitempty"`
}

type FilterDate struct {
	Key       string `json:"key"`
	Condition string `json:"condition"`
	Alias     string `json:"alias"`
	Value     string `json:"value"`
}

// SearchRequest is the paged search body shared by every search endpoint.
type SearchRequest struct {
	FilterFieldParams       []FilterField `json:"filterFieldParams"`
	Page                    int           `json:"page"`
	Size                    int           `json:"size"`
	SearchRoleViewConstants string        `json:"searchRoleViewConstants"`
	FilterDateParams        []FilterDate  `json:"filterDateParams"`
}

// searchPage is the response envelope of every search endpoint.
type searchPage[T any] struct {
	Object     []T `json:"object"`
	TotalCount int `json:"totalCount"`
}

// PortfolioRequest is the body of meroShareView/myPortfolio/.
type PortfolioRequest struct {
	SortBy     string   `json:"sortBy"`
	Demat      []string `json:"demat"`
	ClientCode string   `json:"clientCode"`
	Page       int      `json:"page"`
	Size       int      `json:"size"`
	SortAsc    bool     `json:"sortAsc"`
}
