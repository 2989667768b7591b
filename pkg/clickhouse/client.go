package clickhouse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/ethpandaops/chfs/pkg/observability"
	"github.com/sirupsen/logrus"
)

// Define static errors
var (
	ErrDestMustBePointerToSlice = errors.New("dest must be a pointer to a slice")
	ErrDataMustBeSlice          = errors.New("data must be a slice")
	ErrClickHouseResponse       = errors.New("clickhouse error")
)

const maxLoggedQueryLength = 1000

// Statement kinds used for timeouts and metric labels
const (
	kindSelect = "select"
	kindInsert = "insert"
	kindDDL    = "ddl"
	kindOther  = "other"
)

// ColumnMeta describes a result column as reported by ClickHouse
type ColumnMeta struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Result holds a decoded query result. Numbers are kept as json.Number so
// callers can pick the precision they need.
type Result struct {
	Meta []ColumnMeta
	Rows []map[string]any
}

// clickhouseResponse represents the JSON response from ClickHouse HTTP interface.
type clickhouseResponse struct {
	Data     []json.RawMessage `json:"data"`
	Meta     []ColumnMeta      `json:"meta"`
	Rows     int               `json:"rows"`
	RowsRead int               `json:"rows_read"` //nolint:tagliatelle // ClickHouse API uses snake_case
}

// ClientInterface defines the methods for interacting with ClickHouse
type ClientInterface interface {
	// QueryOne executes a query and returns a single result
	QueryOne(ctx context.Context, query string, dest interface{}) error
	// QueryMany executes a query and returns multiple results
	QueryMany(ctx context.Context, query string, dest interface{}) error
	// Query executes a query and returns column metadata with generic rows
	Query(ctx context.Context, query string) (*Result, error)
	// Execute runs a query and returns the raw response body
	Execute(ctx context.Context, query string) ([]byte, error)
	// BulkInsert performs a bulk insert operation
	BulkInsert(ctx context.Context, table string, data interface{}) error
	// Start initializes the client
	Start() error
	// Stop closes the client
	Stop() error
}

// client implements the ClientInterface using HTTP
type client struct {
	log           logrus.FieldLogger
	httpClient    *http.Client
	baseURL       string
	database      string
	debug         bool
	queryTimeout  time.Duration
	insertTimeout time.Duration
}

// NewClient creates a new HTTP-based ClickHouse client
func NewClient(logger logrus.FieldLogger, cfg *Config) (ClientInterface, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg.SetDefaults()

	// Timeouts are applied per request
	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     cfg.KeepAlive,
		},
	}

	c := &client{
		log:           logger.WithField("component", "clickhouse-http"),
		httpClient:    httpClient,
		baseURL:       strings.TrimRight(cfg.URL, "/"),
		database:      cfg.Database,
		debug:         cfg.Debug,
		queryTimeout:  cfg.QueryTimeout,
		insertTimeout: cfg.InsertTimeout,
	}

	return c, nil
}

func (c *client) Start() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := c.Execute(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	c.log.Info("Connected to ClickHouse HTTP interface")

	return nil
}

func (c *client) Stop() error {
	if c.httpClient != nil {
		c.httpClient.CloseIdleConnections()
	}

	c.log.Info("Closed ClickHouse HTTP client")

	return nil
}

func (c *client) QueryOne(ctx context.Context, query string, dest interface{}) error {
	result, err := c.queryJSON(ctx, query)
	if err != nil {
		return err
	}

	// An empty result leaves dest untouched
	if len(result.Data) == 0 {
		return nil
	}

	if err := json.Unmarshal(result.Data[0], dest); err != nil {
		return fmt.Errorf("failed to unmarshal result: %w", err)
	}

	return nil
}

func (c *client) QueryMany(ctx context.Context, query string, dest interface{}) error {
	target := reflect.ValueOf(dest)
	if target.Kind() != reflect.Ptr || target.Elem().Kind() != reflect.Slice {
		return ErrDestMustBePointerToSlice
	}

	result, err := c.queryJSON(ctx, query)
	if err != nil {
		return err
	}

	rows := reflect.MakeSlice(target.Elem().Type(), len(result.Data), len(result.Data))

	for i, raw := range result.Data {
		if err := json.Unmarshal(raw, rows.Index(i).Addr().Interface()); err != nil {
			return fmt.Errorf("failed to unmarshal row %d: %w", i, err)
		}
	}

	target.Elem().Set(rows)

	return nil
}

func (c *client) Query(ctx context.Context, query string) (*Result, error) {
	result, err := c.queryJSON(ctx, query)
	if err != nil {
		return nil, err
	}

	out := &Result{Meta: result.Meta, Rows: make([]map[string]any, 0, len(result.Data))}

	for i, raw := range result.Data {
		row, err := decodeRow(raw, len(result.Meta))
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal row %d: %w", i, err)
		}

		out.Rows = append(out.Rows, row)
	}

	return out, nil
}

func decodeRow(raw json.RawMessage, width int) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	row := make(map[string]any, width)
	if err := dec.Decode(&row); err != nil {
		return nil, err
	}

	return row, nil
}

func (c *client) Execute(ctx context.Context, query string) ([]byte, error) {
	kind := queryType(query)

	body, err := c.post(ctx, query, c.timeoutFor(ctx, kind), kind)
	if err != nil {
		return nil, fmt.Errorf("execution failed: %w", err)
	}

	return body, nil
}

// BulkInsert writes data, a slice of JSON-encodable rows, with JSONEachRow
func (c *client) BulkInsert(ctx context.Context, table string, data interface{}) error {
	rows := reflect.ValueOf(data)
	if rows.Kind() != reflect.Slice {
		return ErrDataMustBeSlice
	}

	if rows.Len() == 0 {
		return nil
	}

	var buf bytes.Buffer

	fmt.Fprintf(&buf, "INSERT INTO %s FORMAT JSONEachRow\n", table)

	enc := json.NewEncoder(&buf)
	for i := 0; i < rows.Len(); i++ {
		if err := enc.Encode(rows.Index(i).Interface()); err != nil {
			return fmt.Errorf("failed to marshal row %d: %w", i, err)
		}
	}

	if _, err := c.post(ctx, buf.String(), c.timeoutFor(ctx, kindInsert), kindInsert); err != nil {
		return fmt.Errorf("bulk insert failed: %w", err)
	}

	return nil
}

func (c *client) queryJSON(ctx context.Context, query string) (*clickhouseResponse, error) {
	body, err := c.post(ctx, query+" FORMAT JSON", c.timeoutFor(ctx, kindSelect), kindSelect)
	if err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}

	var result clickhouseResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &result, nil
}

func (c *client) requestURL() string {
	params := url.Values{}
	params.Set("date_time_input_format", "best_effort")

	if c.database != "" {
		params.Set("database", c.database)
	}

	return c.baseURL + "/?" + params.Encode()
}

// post sends one statement to the HTTP interface and returns the body of a
// successful response
func (c *client) post(ctx context.Context, query string, timeout time.Duration, kind string) (body []byte, err error) {
	start := time.Now()

	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}

		observability.RecordClickHouseQuery(kind, status, time.Since(start).Seconds())
	}()

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.requestURL(), strings.NewReader(query))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "text/plain")

	if c.debug {
		c.log.WithFields(logrus.Fields{
			"kind":  kind,
			"query": truncateQuery(query),
		}).Debug("Executing ClickHouse query")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.log.WithError(closeErr).Debug("Failed to close response body")
		}
	}()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp.StatusCode, body)
	}

	if c.debug && len(body) < maxLoggedQueryLength {
		c.log.WithField("response", string(body)).Debug("ClickHouse response")
	}

	return body, nil
}

// responseError prefers the exception field ClickHouse sets on JSON errors
func responseError(status int, body []byte) error {
	var payload struct {
		Exception string `json:"exception"`
	}

	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &payload); err == nil && payload.Exception != "" {
		msg = payload.Exception
	}

	return fmt.Errorf("%w (status %d): %s", ErrClickHouseResponse, status, msg)
}

// timeoutFor honours a caller deadline, otherwise inserts get the insert timeout
func (c *client) timeoutFor(ctx context.Context, kind string) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		return time.Until(deadline)
	}

	if kind == kindInsert {
		return c.insertTimeout
	}

	return c.queryTimeout
}

// truncateQuery shortens long statements, mostly inserts, for debug logs
func truncateQuery(query string) string {
	if len(query) <= maxLoggedQueryLength {
		return query
	}

	return query[:maxLoggedQueryLength] + "... (truncated)"
}

// queryType classifies a statement for metrics labels
func queryType(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return kindOther
	}

	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH":
		return kindSelect
	case "INSERT":
		return kindInsert
	case "CREATE", "ALTER", "DROP", "TRUNCATE", "EXCHANGE", "RENAME":
		return kindDDL
	default:
		return kindOther
	}
}
