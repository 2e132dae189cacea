// Package sis talks to the School Information System gateway that anchors certificates
// on the shared ledger. It is the only package aware of the gateway's wire format.
package sis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	headerAPIKey        = "X-API-Key"
	headerInstitutionID = "X-Institution-ID"

	notConfiguredMessage = "sis gateway not configured"
	maxResponseBytes     = 1 << 20
)

// ErrNotConfigured is returned by NewClient when RequireConfigured is set and settings are missing.
var ErrNotConfigured = errors.New(notConfiguredMessage)

// Config holds gateway connection settings.
type Config struct {
	BaseURL           string
	APIKey            string
	InstitutionID     string
	Timeout           time.Duration
	RequireConfigured bool
}

// Configured reports whether the client can reach a real gateway.
func (c Config) Configured() bool {
	return strings.TrimSpace(c.BaseURL) != "" && c.APIKey != "" && c.InstitutionID != ""
}

// TransportError is a retryable failure: network error, timeout, non-2xx or malformed body.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("sis %s: http %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("sis %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransportError reports whether err came from the gateway transport.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Observer receives one observation per gateway round trip.
type Observer interface {
	ObserveGatewayRequest(operation, outcome string, duration time.Duration)
}

// Option customises the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client (tests inject an httptest client).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithObserver attaches a latency observer.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Client is a thin, non-retrying adapter over the gateway HTTP API.
type Client struct {
	cfg      Config
	baseURL  string
	http     *http.Client
	observer Observer
	logger   *zap.Logger
}

// NewClient builds a client. Without configuration it runs in sentinel mode and performs
// no network I/O, unless cfg.RequireConfigured asks it to fail instead.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if !cfg.Configured() && cfg.RequireConfigured {
		return nil, ErrNotConfigured
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Configured reports whether the client talks to a real gateway.
func (c *Client) Configured() bool {
	return c != nil && c.cfg.Configured()
}

// StoreCertificate anchors the certificate payload. A gateway-level refusal comes back as
// Status=failed with a nil error; transport problems return *TransportError.
func (c *Client) StoreCertificate(ctx context.Context, cert CertificateData) (*BlockchainRecord, error) {
	if !c.Configured() {
		return &BlockchainRecord{Status: StatusFailed, Error: notConfiguredMessage, Timestamp: time.Now().UTC()}, nil
	}
	return c.store(ctx, "store_certificate", cert.CertificateNo, recordTypeCertificate, cert)
}

// StoreRevocation records a revocation event for an anchored certificate.
func (c *Client) StoreRevocation(ctx context.Context, rev RevocationData) (*BlockchainRecord, error) {
	if !c.Configured() {
		return &BlockchainRecord{Status: StatusFailed, Error: notConfiguredMessage, Timestamp: time.Now().UTC()}, nil
	}
	return c.store(ctx, "store_revocation", rev.CertificateNo, recordTypeRevocation, rev)
}

func (c *Client) store(ctx context.Context, op, key, recordType string, data interface{}) (*BlockchainRecord, error) {
	body := storeRequest{
		StudentID:  key,
		SchoolID:   c.cfg.InstitutionID,
		RecordType: recordType,
		RecordData: data,
	}
	var resp storeResponse
	if _, err := c.do(ctx, op, http.MethodPost, "/blockchain/store", nil, body, &resp, false); err != nil {
		return nil, err
	}
	return normalizeStore(resp), nil
}

func normalizeStore(resp storeResponse) *BlockchainRecord {
	now := time.Now().UTC()
	if !resp.Success {
		msg := firstNonEmpty(resp.Error, resp.Message, "gateway rejected the record")
		return &BlockchainRecord{Status: StatusFailed, Error: msg, Timestamp: now}
	}
	record := &BlockchainRecord{Status: StatusPending, Timestamp: now}
	if resp.Data == nil {
		return record
	}
	record.Slot = resp.Data.Slot
	record.ExplorerURL = resp.Data.ExplorerURL
	if br := resp.Data.BlockchainRecord; br != nil {
		record.Hash = br.Hash
		record.TransactionID = br.TransactionID
		if ts, err := time.Parse(time.RFC3339, br.Timestamp); err == nil {
			record.Timestamp = ts.UTC()
		}
		if st := AnchorStatus(strings.ToLower(br.Status)); st == StatusPending || st == StatusConfirmed || st == StatusFailed {
			record.Status = st
		}
	}
	if record.TransactionID == "" {
		record.TransactionID = resp.Data.Signature
	}
	if record.Status == StatusPending && record.TransactionID != "" && (resp.Data.BlockchainRecord == nil || resp.Data.BlockchainRecord.Status == "") {
		record.Status = StatusConfirmed
	}
	if record.Status == StatusConfirmed && record.TransactionID == "" {
		record.Status = StatusPending
	}
	return record
}

// VerifyCertificate looks the identifier up on the ledger. Not-found is Valid=false with nil error.
func (c *Client) VerifyCertificate(ctx context.Context, certificateNoOrCode string) (*VerificationResult, error) {
	if !c.Configured() {
		return &VerificationResult{Valid: false, Error: notConfiguredMessage}, nil
	}
	query := url.Values{"studentId": []string{certificateNoOrCode}}
	var resp verifyResponse
	status, err := c.do(ctx, "verify_certificate", http.MethodGet, "/blockchain/verify", query, nil, &resp, true)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return &VerificationResult{Valid: false}, nil
	}
	return normalizeVerify(resp), nil
}

func normalizeVerify(resp verifyResponse) *VerificationResult {
	if !resp.Success {
		return &VerificationResult{Valid: false, Error: firstNonEmpty(resp.Error, resp.Message)}
	}
	result := &VerificationResult{}
	if resp.Verified != nil && *resp.Verified {
		result.Valid = true
	}
	if d := resp.Data; d != nil {
		result.Valid = result.Valid || d.Verified
		result.BlockchainHash = d.Signature
		result.ExplorerURL = d.ExplorerURL
		result.Certificate = d.RecordData
		if ts, err := time.Parse(time.RFC3339, d.VerifiedAt); err == nil {
			ts = ts.UTC()
			result.VerifiedAt = &ts
		}
	}
	if result.Certificate != nil && strings.EqualFold(result.Certificate.Status, "revoked") {
		result.Revoked = true
	}
	if result.Valid && result.VerifiedAt == nil {
		now := time.Now().UTC()
		result.VerifiedAt = &now
	}
	return result
}

// StudentRecords lists ledger records stored under a student identifier.
func (c *Client) StudentRecords(ctx context.Context, studentID string) ([]BlockchainRecord, error) {
	if !c.Configured() {
		return []BlockchainRecord{}, nil
	}
	query := url.Values{"studentId": []string{studentID}}
	var raw json.RawMessage
	if _, err := c.do(ctx, "student_records", http.MethodGet, "/blockchain/records", query, nil, &raw, false); err != nil {
		return nil, err
	}
	var wire []wireBlockchainRecord
	if err := json.Unmarshal(raw, &wire); err != nil {
		var env recordsResponse
		if envErr := json.Unmarshal(raw, &env); envErr != nil {
			return nil, &TransportError{Op: "student_records", Err: fmt.Errorf("decode response: %w", envErr)}
		}
		wire = env.Data
	}
	records := make([]BlockchainRecord, 0, len(wire))
	for _, w := range wire {
		rec := BlockchainRecord{
			Hash:          w.Hash,
			TransactionID: w.TransactionID,
			Status:        AnchorStatus(strings.ToLower(w.Status)),
		}
		if ts, err := time.Parse(time.RFC3339, w.Timestamp); err == nil {
			rec.Timestamp = ts.UTC()
		}
		records = append(records, rec)
	}
	return records, nil
}

// SyncStudent propagates student metadata. Callers treat failures as best effort.
func (c *Client) SyncStudent(ctx context.Context, student StudentSync) (*SyncResult, error) {
	if !c.Configured() {
		return &SyncResult{Success: false, Error: notConfiguredMessage}, nil
	}
	body := struct {
		StudentSync
		InstitutionID string `json:"institutionId"`
	}{student, c.cfg.InstitutionID}
	return c.sync(ctx, "sync_student", "/students/sync", body)
}

// ReportGraduation announces a graduation. Callers treat failures as best effort.
func (c *Client) ReportGraduation(ctx context.Context, report GraduationReport) (*SyncResult, error) {
	if !c.Configured() {
		return &SyncResult{Success: false, Error: notConfiguredMessage}, nil
	}
	body := struct {
		GraduationReport
		InstitutionID string `json:"institutionId"`
	}{report, c.cfg.InstitutionID}
	return c.sync(ctx, "report_graduation", "/graduations/report", body)
}

func (c *Client) sync(ctx context.Context, op, path string, body interface{}) (*SyncResult, error) {
	var resp syncResponse
	if _, err := c.do(ctx, op, http.MethodPost, path, nil, body, &resp, false); err != nil {
		return nil, err
	}
	result := &SyncResult{Success: resp.Success, ID: firstNonEmpty(resp.ID, resp.SISID, resp.RecordID)}
	if !resp.Success {
		result.Error = firstNonEmpty(resp.Error, resp.Message, "gateway rejected the sync")
	}
	return result, nil
}

// Status probes the gateway. Every failure collapses to Connected=false.
func (c *Client) Status(ctx context.Context) GatewayStatus {
	if !c.Configured() {
		return GatewayStatus{Connected: false}
	}
	var resp statusResponse
	if _, err := c.do(ctx, "status", http.MethodGet, "/blockchain/status", nil, nil, &resp, false); err != nil {
		c.logger.Debug("sis status probe failed", zap.Error(err))
		return GatewayStatus{Connected: false}
	}
	if !resp.Success || resp.Data == nil {
		return GatewayStatus{Connected: false}
	}
	chain := resp.Data.Blockchain
	return GatewayStatus{
		Connected:      chain.Connected,
		ChainType:      chain.Type,
		Network:        chain.Network,
		CurrentSlot:    chain.CurrentSlot,
		WalletAddress:  chain.WalletAddress,
		Balance:        chain.Balance,
		TotalRecords:   resp.Data.Statistics.TotalRecordsStored,
		PendingRecords: resp.Data.Statistics.PendingRecords,
	}
}

// do performs one request. When allowNotFound is set a 404 is returned as a status with no error.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out interface{}, allowNotFound bool) (int, error) {
	start := time.Now()
	outcome := "ok"
	defer func() {
		if c.observer != nil {
			c.observer.ObserveGatewayRequest(op, outcome, time.Since(start))
		}
	}()

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			outcome = "encode_error"
			return 0, fmt.Errorf("sis %s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		outcome = "error"
		return 0, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(headerAPIKey, c.cfg.APIKey)
	req.Header.Set(headerInstitutionID, c.cfg.InstitutionID)

	resp, err := c.http.Do(req)
	if err != nil {
		outcome = "network_error"
		return 0, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		outcome = "read_error"
		return resp.StatusCode, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if allowNotFound && resp.StatusCode == http.StatusNotFound {
		outcome = "not_found"
		return resp.StatusCode, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		outcome = fmt.Sprintf("http_%d", resp.StatusCode)
		return resp.StatusCode, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(errorMessage(raw, resp.StatusCode))}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			outcome = "malformed"
			return resp.StatusCode, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return resp.StatusCode, nil
}

func errorMessage(raw []byte, status int) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if msg := firstNonEmpty(body.Message, body.Error); msg != "" {
			return msg
		}
	}
	return fmt.Sprintf("HTTP %d", status)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
