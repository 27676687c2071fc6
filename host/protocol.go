package host

// This file defines the data model (spec.md §3) and the wire-level request
// and response shapes for every named RPC method (spec.md §6). Field
// ordering and JSON tags follow the reference deployment's schema
// documents; this package treats them as fixed, not as something a caller
// configures.

// User identifies the end user a transaction or page session is running
// on behalf of.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Organization identifies the tenant a host instance is registered under.
type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Environment distinguishes a development connection from a production one;
// the service uses it to route the transaction to the right dashboard view.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// ActionMetadata describes an action's declared identity to the server at
// INITIALIZE_HOST time.
type ActionMetadata struct {
	Slug string         `json:"slug"`
	Name string         `json:"name,omitempty"`
	Tags []string        `json:"tags,omitempty"`
	Meta map[string]any `json:"meta,omitempty"`
}

// PageMetadata is the page-tree analogue of ActionMetadata.
type PageMetadata struct {
	Slug     string         `json:"slug"`
	Name     string         `json:"name,omitempty"`
	HasIndex bool           `json:"hasIndex,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// InitializeHostParams is sent once at connect and again whenever the
// route tree changes, per spec.md §4.3.
type InitializeHostParams struct {
	InstanceID string           `json:"instanceId"`
	SDKName    string           `json:"sdkName"`
	SDKVersion string           `json:"sdkVersion"`
	Actions    []ActionMetadata `json:"actions"`
	Pages      []PageMetadata   `json:"pages"`
}

// InitializeHostResult is the server's reply, carrying organization
// binding, the HTTP dashboard origin, and any configuration problems.
type InitializeHostResult struct {
	Organization Organization `json:"organization"`
	Environment  Environment  `json:"environment"`
	DashboardURL string       `json:"dashboardUrl"`
	Warnings     []string     `json:"warnings,omitempty"`
	InvalidSlugs []string     `json:"invalidSlugs,omitempty"`
	SDKAlert     *SDKAlert    `json:"sdkAlert,omitempty"`
}

// SDKAlert is an advisory message the server can attach to any
// INITIALIZE_HOST reply, e.g. to warn of a deprecated SDK version.
type SDKAlert struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// StartTransactionParams is the service-to-host payload that spawns a
// TransactionRuntime.
type StartTransactionParams struct {
	TransactionID string         `json:"transactionId"`
	Action        ActionRef      `json:"action"`
	Environment   Environment    `json:"environment"`
	User          User           `json:"user"`
	Params        map[string]any `json:"params"`
	ParamsMeta    map[string]any `json:"paramsMeta,omitempty"`
}

// ActionRef names the action a transaction was started for and the
// dashboard link a user followed to get there.
type ActionRef struct {
	Slug string `json:"slug"`
	URL  string `json:"url,omitempty"`
}

// OpenPageParams is the page-session analogue of StartTransactionParams.
type OpenPageParams struct {
	PageKey     string         `json:"pageKey"`
	Page        ActionRef      `json:"page"`
	Environment Environment    `json:"environment"`
	User        User           `json:"user"`
	Params      map[string]any `json:"params"`
}

// CloseTransactionParams asks the host to erase all local state for a
// transaction, whether or not the handler has returned.
type CloseTransactionParams struct {
	TransactionID string `json:"transactionId"`
}

// ClosePageParams is the page-session analogue of CloseTransactionParams.
type ClosePageParams struct {
	PageKey string `json:"pageKey"`
}

// IOResponseKind distinguishes a terminal answer from an in-progress state
// update or a validator round-trip (spec.md §4.4).
type IOResponseKind string

const (
	IOKindReturn   IOResponseKind = "RETURN"
	IOKindSetState IOResponseKind = "SET_STATE"
	IOKindCancel   IOResponseKind = "CANCEL"
	IOKindValidate IOResponseKind = "VALIDATE"
)

// IOResponseParams is the service-to-host reply to an outstanding
// render. Values holds one positional entry per rendered component (each
// component's own return/state type, not necessarily an object); a group
// with choice buttons appends one trailing object carrying "choice".
type IOResponseParams struct {
	TransactionID string         `json:"transactionId"`
	ID            string         `json:"id"`
	Kind          IOResponseKind `json:"kind"`
	Values        []any          `json:"values,omitempty"`
}

// Component is the wire shape of one on-screen control: method name, label,
// and the two prop snapshots (initial and current) spec.md §3 names.
type Component struct {
	MethodName   string         `json:"methodName"`
	Label        string         `json:"label"`
	InitialProps map[string]any `json:"initialProps,omitempty"`
	CurrentProps map[string]any `json:"currentProps,omitempty"`
	IsOptional   bool           `json:"isOptional,omitempty"`
	IsMultiple   bool           `json:"isMultiple,omitempty"`
}

// ChoiceButton is a labelled submit button attached to a render group.
type ChoiceButton struct {
	Label string `json:"label"`
	Value string `json:"value"`
	Theme string `json:"theme,omitempty"`
}

// RenderInstruction is the non-empty component sequence shipped by
// SEND_IO_CALL, plus the optional choice buttons and validator flag.
type RenderInstruction struct {
	Components     []Component    `json:"components"`
	ChoiceButtons  []ChoiceButton `json:"choiceButtons,omitempty"`
	HasValidator   bool           `json:"hasValidator,omitempty"`
	ValidationErr  string         `json:"validationErrorMessage,omitempty"`
}

// SendIOCallParams is the host-to-service payload for one render.
// RenderID is the render-generation token that the matching IOResponseParams.ID
// must echo back (spec.md §3: "id (matches render generation)").
type SendIOCallParams struct {
	TransactionID string            `json:"transactionId"`
	RenderID      string            `json:"renderId"`
	ToRender      RenderInstruction `json:"toRender"`
}

// SendPageParams is the page-session analogue of SendIOCallParams; pages
// render a layout rather than an I/O instruction.
type SendPageParams struct {
	PageKey string            `json:"pageKey"`
	Layout  RenderInstruction `json:"layout"`
}

// LoadingState is the single coalesced progress record per transaction
// (spec.md §3, §4.6).
type LoadingState struct {
	Title          *string `json:"title,omitempty"`
	Description    *string `json:"description,omitempty"`
	ItemsInQueue   *int    `json:"itemsInQueue,omitempty"`
	ItemsCompleted *int    `json:"itemsCompleted,omitempty"`
}

// SendLoadingCallParams is the host-to-service payload for a loading-state
// update.
type SendLoadingCallParams struct {
	TransactionID string       `json:"transactionId"`
	State         LoadingState `json:"loadingState"`
}

// SendLogParams carries one ctx.log call; Index is the per-transaction
// monotonic ordering field spec.md §4.5/§8 requires.
type SendLogParams struct {
	TransactionID string `json:"transactionId"`
	Index         int    `json:"index"`
	Message       string `json:"message"`
	Truncated     bool   `json:"truncated,omitempty"`
	Timestamp     int64  `json:"timestamp"`
}

// SendRedirectParams carries one ctx.redirect call.
type SendRedirectParams struct {
	TransactionID string `json:"transactionId"`
	URL           string `json:"url"`
}

// ActionResultStatus enumerates the terminal states a transaction can
// report to MARK_TRANSACTION_COMPLETE.
type ActionResultStatus string

const (
	StatusSuccess    ActionResultStatus = "SUCCESS"
	StatusFailure    ActionResultStatus = "FAILURE"
	StatusCanceled   ActionResultStatus = "CANCELED"
	StatusRedirected ActionResultStatus = "REDIRECTED"
)

// ActionResultError is the serialized form of a handler panic or returned
// error, per spec.md §4.5.
type ActionResultError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Cause   string `json:"cause,omitempty"`
}

// ActionResult is the outcome of one transaction.
type ActionResult struct {
	SchemaVersion int                `json:"schemaVersion"`
	Status        ActionResultStatus `json:"status"`
	Data          any                `json:"data,omitempty"`
	Meta          *ActionResultError `json:"meta,omitempty"`
}

// MarkTransactionCompleteParams reports a transaction's final outcome.
type MarkTransactionCompleteParams struct {
	TransactionID string       `json:"transactionId"`
	Result        ActionResult `json:"result"`
}

// BeginHostShutdownParams asks the server to stop dispatching new
// transactions to this host instance.
type BeginHostShutdownParams struct {
	InstanceID string `json:"instanceId"`
}

// DeclareHostParams is the payload of DECLARE_HOST, which announces the
// instance id. Host never sends DECLARE_HOST itself: both the first connect
// and every reconnect go straight to INITIALIZE_HOST.
type DeclareHostParams struct {
	InstanceID string `json:"instanceId"`
}

// ComponentRegistry is the external collaborator spec.md §6 describes: it
// owns every concrete I/O component's schema. The host package only needs
// enough surface to validate and coerce props/return/state payloads; it
// never enumerates component kinds itself.
type ComponentRegistry interface {
	// ComponentMethodNames lists every method name the registry can parse.
	ComponentMethodNames() []string
	// ParseProps validates and normalizes a component's initial or current
	// props before they are rendered.
	ParseProps(methodName string, raw map[string]any) (map[string]any, error)
	// ParseReturn validates and coerces a RETURN value for methodName.
	ParseReturn(methodName string, raw any) (any, error)
	// ParseState validates and coerces a SET_STATE value for methodName.
	ParseState(methodName string, raw any) (any, error)
}
