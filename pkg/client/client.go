// Package client provides the Go SDK for the pharmaledger HTTP API:
// reading and verifying the transaction chain, managing drug inventory,
// and recording prescriptions.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// Transaction mirrors one entry of the hash chain as returned by the API.
type Transaction struct {
	Index            int    `json:"index"`
	TransactionID    string `json:"transactionId"`
	Timestamp        int64  `json:"timestamp"`
	EntityID         string `json:"entityId"`
	EntityName       string `json:"entityName"`
	Type             string `json:"transactionType"`
	Quantity         int    `json:"quantity"`
	PreviousQuantity int    `json:"previousQuantity"`
	NewQuantity      int    `json:"newQuantity"`
	PerformedBy      string `json:"performedBy"`
	PerformedByRole  string `json:"performedByRole"`
	PrescriptionID   string `json:"prescriptionId,omitempty"`
	BatchNumber      string `json:"batchNumber,omitempty"`
	Notes            string `json:"notes,omitempty"`
	PreviousHash     string `json:"previousHash"`
	Hash             string `json:"hash"`
}

// Violation is one integrity finding from a chain verification.
type Violation struct {
	Index         int    `json:"index"`
	TransactionID string `json:"transactionId"`
	Kind          string `json:"kind"`
	Detail        string `json:"detail"`
}

// VerifyResult is the outcome of GET /ledger/verify.
type VerifyResult struct {
	Valid      bool        `json:"isValid"`
	Violations []Violation `json:"violations,omitempty"`
}

// Overview summarises the chain: length and current root hash.
type Overview struct {
	Transactions int    `json:"transactions"`
	Root         string `json:"root"`
}

// Statistics aggregates the chain excluding genesis.
type Statistics struct {
	TotalTransactions int            `json:"totalTransactions"`
	ByKind            map[string]int `json:"transactionsByType"`
	UniqueEntities    int            `json:"uniqueEntities"`
	ChainIntegrity    VerifyResult   `json:"chainIntegrity"`
}

// Drug mirrors the inventory record returned by the drug endpoints.
type Drug struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Unit        string `json:"unit"`
	Stock       int    `json:"stock"`
	BatchNumber string `json:"batchNumber,omitempty"`
	LedgerHash  string `json:"ledgerHash,omitempty"`
}

// Prescription mirrors the prescription record returned by the API.
type Prescription struct {
	ID           string `json:"id"`
	Number       string `json:"number"`
	PatientName  string `json:"patientName"`
	DrugID       string `json:"drugId"`
	Dosage       string `json:"dosage"`
	Diagnosis    string `json:"diagnosis,omitempty"`
	Quantity     int    `json:"quantity"`
	Status       string `json:"status"`
	PrescribedBy string `json:"prescribedBy,omitempty"`
	LedgerHash   string `json:"ledgerHash,omitempty"`
}

// StockRequest is the payload for the stock operation endpoints.
type StockRequest struct {
	Quantity        int    `json:"quantity,omitempty"`
	NewStock        int    `json:"newStock,omitempty"`
	BatchNumber     string `json:"batchNumber,omitempty"`
	PrescriptionID  string `json:"prescriptionId,omitempty"`
	Reason          string `json:"reason,omitempty"`
	Notes           string `json:"notes,omitempty"`
	PerformedBy     string `json:"performedBy,omitempty"`
	PerformedByRole string `json:"performedByRole,omitempty"`
}

// StockResult pairs the updated drug with the transaction that recorded
// the operation.
type StockResult struct {
	Drug        Drug        `json:"drug"`
	Transaction Transaction `json:"transaction"`
}

// Client talks to a pharmaledger server.
type Client struct {
	base       string
	httpClient *http.Client

	mu          sync.Mutex
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client, overriding any TLS options.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches a pre-obtained operator token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this in development.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
			Timeout: 10 * time.Second,
		}
		return nil
	}
}

// New creates a Client connected to base, e.g. "http://localhost:8080".
func New(base string, opts ...Option) (*Client, error) {
	c := &Client{
		base:       base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// FetchToken exchanges the admin secret for an operator token and attaches
// it to all subsequent requests.
func (c *Client) FetchToken(ctx context.Context, secret, name, role string) (string, error) {
	payload, _ := json.Marshal(map[string]string{
		"secret": secret, "name": name, "role": role,
	})
	body, err := c.post(ctx, "/api/v1/auth/token", payload)
	if err != nil {
		return "", err
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	c.mu.Lock()
	c.bearerToken = resp.Token
	c.mu.Unlock()
	return resp.Token, nil
}

// Overview fetches the chain length and root hash.
func (c *Client) Overview(ctx context.Context) (*Overview, error) {
	var out Overview
	if err := c.getJSON(ctx, "/api/v1/ledger", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify runs a full chain integrity check on the server.
func (c *Client) Verify(ctx context.Context) (*VerifyResult, error) {
	var out VerifyResult
	if err := c.getJSON(ctx, "/api/v1/ledger/verify", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Recent fetches the most recent transactions, newest first.
func (c *Client) Recent(ctx context.Context, limit int) ([]Transaction, error) {
	path := "/api/v1/ledger/transactions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Transactions []Transaction `json:"transactions"`
	}
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Transactions, nil
}

// Transaction fetches a single transaction by chain index.
func (c *Client) Transaction(ctx context.Context, idx int) (*Transaction, error) {
	var out Transaction
	if err := c.getJSON(ctx, "/api/v1/ledger/transactions/"+strconv.Itoa(idx), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History fetches every transaction for one entity, oldest first.
func (c *Client) History(ctx context.Context, entityID string) ([]Transaction, error) {
	var out struct {
		Transactions []Transaction `json:"transactions"`
	}
	if err := c.getJSON(ctx, "/api/v1/ledger/history/"+url.PathEscape(entityID), &out); err != nil {
		return nil, err
	}
	return out.Transactions, nil
}

// Statistics fetches chain aggregates.
func (c *Client) Statistics(ctx context.Context) (*Statistics, error) {
	var out Statistics
	if err := c.getJSON(ctx, "/api/v1/ledger/statistics", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Export fetches the full chain including the genesis transaction.
func (c *Client) Export(ctx context.Context) ([]Transaction, error) {
	var out struct {
		Chain []Transaction `json:"chain"`
	}
	if err := c.getJSON(ctx, "/api/v1/ledger/export", &out); err != nil {
		return nil, err
	}
	return out.Chain, nil
}

// CreateDrugRequest is the payload for CreateDrug.
type CreateDrugRequest struct {
	Name            string `json:"name"`
	Unit            string `json:"unit"`
	InitialStock    int    `json:"initialStock,omitempty"`
	BatchNumber     string `json:"batchNumber,omitempty"`
	PerformedBy     string `json:"performedBy,omitempty"`
	PerformedByRole string `json:"performedByRole,omitempty"`
}

// CreateDrug registers a new drug, recording any initial stock on the chain.
func (c *Client) CreateDrug(ctx context.Context, req CreateDrugRequest) (*Drug, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	body, err := c.post(ctx, "/api/v1/drugs", payload)
	if err != nil {
		return nil, err
	}
	var out Drug
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode drug response: %w", err)
	}
	return &out, nil
}

// GetDrug fetches a drug by UUID.
func (c *Client) GetDrug(ctx context.Context, id string) (*Drug, error) {
	var out Drug
	if err := c.getJSON(ctx, "/api/v1/drugs/"+id, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListDrugs fetches the drug inventory.
func (c *Client) ListDrugs(ctx context.Context) ([]Drug, error) {
	var out struct {
		Drugs []Drug `json:"drugs"`
	}
	if err := c.getJSON(ctx, "/api/v1/drugs", &out); err != nil {
		return nil, err
	}
	return out.Drugs, nil
}

// RecordStock posts one stock operation for a drug. op is one of stock-in,
// dispense, expire, damage, return, or adjust.
func (c *Client) RecordStock(ctx context.Context, drugID, op string, req StockRequest) (*StockResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	body, err := c.post(ctx, "/api/v1/drugs/"+drugID+"/"+op, payload)
	if err != nil {
		return nil, err
	}
	var out StockResult
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode stock response: %w", err)
	}
	return &out, nil
}

// CreatePrescriptionRequest is the payload for CreatePrescription.
type CreatePrescriptionRequest struct {
	PatientName     string `json:"patientName"`
	DrugID          string `json:"drugId"`
	Dosage          string `json:"dosage"`
	Diagnosis       string `json:"diagnosis,omitempty"`
	Quantity        int    `json:"quantity"`
	PerformedBy     string `json:"performedBy,omitempty"`
	PerformedByRole string `json:"performedByRole,omitempty"`
}

// CreatePrescription records a new prescription on the chain.
func (c *Client) CreatePrescription(ctx context.Context, req CreatePrescriptionRequest) (*Prescription, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	body, err := c.post(ctx, "/api/v1/prescriptions", payload)
	if err != nil {
		return nil, err
	}
	var out struct {
		Prescription Prescription `json:"prescription"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode prescription response: %w", err)
	}
	return &out.Prescription, nil
}

// GetPrescription fetches a prescription by UUID.
func (c *Client) GetPrescription(ctx context.Context, id string) (*Prescription, error) {
	var out Prescription
	if err := c.getJSON(ctx, "/api/v1/prescriptions/"+id, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// getJSON executes a GET and decodes the response into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// post executes a POST with a JSON payload and returns the raw response body.
func (c *Client) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

// do executes an HTTP request, attaching the Bearer token if present.
func (c *Client) do(req *http.Request) ([]byte, error) {
	c.mu.Lock()
	token := c.bearerToken
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("not found: %s", req.URL.Path)
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("unauthorized: %s", string(body))
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
