// Package mct talks to a MedCATtrainer instance to find which of its concept
// databases a model was trained against.
package mct

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/medcatmlflow/engine/pkg/cache"
	"github.com/medcatmlflow/engine/pkg/logger"
)

const (
	tokenTTL      = 10 * time.Minute
	conceptDBsTTL = time.Minute

	tokenKey      = "mct:token"
	conceptDBsKey = "mct:concept-dbs"
)

// Hasher computes the hash of a downloaded concept database file.
type Hasher interface {
	CDBHash(ctx context.Context, cdbPath string) (string, error)
}

// Config locates and authenticates against MedCATtrainer. BaseURL is the
// API root, e.g. http://trainer:8001/api/.
type Config struct {
	BaseURL  string
	Username string
	Password string
}

// ConceptDB is one entry of the trainer's concept-dbs listing.
type ConceptDB struct {
	ID      ID     `json:"id"`
	Name    string `json:"name,omitempty"`
	CDBFile string `json:"cdb_file"`
}

// ID accepts both numeric and string identifiers.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("concept db id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

type Client struct {
	base   *url.URL
	cfg    Config
	http   *http.Client
	cache  cache.Expiring
	hasher Hasher
	log    *zap.Logger

	mu     sync.Mutex
	hashes map[ID]string
}

func New(cfg Config, hasher Hasher, c cache.Expiring, log *zap.Logger) (*Client, error) {
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid MedCATtrainer url %q", cfg.BaseURL)
	}
	if c == nil {
		c = cache.NewMemory()
	}
	return &Client{
		base:   base,
		cfg:    cfg,
		http:   &http.Client{Timeout: 2 * time.Minute},
		cache:  c,
		hasher: hasher,
		log:    logger.OrNop(log),
		hashes: map[ID]string{},
	}, nil
}

// CDBIDForHash returns the id of the trainer concept database whose file
// hashes to cdbHash. Databases whose file cannot be fetched are skipped.
func (c *Client) CDBIDForHash(ctx context.Context, cdbHash string) (string, bool, error) {
	dbs, err := c.ConceptDBs(ctx)
	if err != nil {
		return "", false, err
	}
	for _, db := range dbs {
		h, err := c.hashFor(ctx, db)
		if err != nil {
			c.log.Error("could not hash concept db",
				zap.String("cdb_id", string(db.ID)), zap.String("cdb_file", db.CDBFile), zap.Error(err))
			continue
		}
		if h == cdbHash {
			return string(db.ID), true, nil
		}
	}
	return "", false, nil
}

// ConceptDBs lists the trainer's concept databases.
func (c *Client) ConceptDBs(ctx context.Context) ([]ConceptDB, error) {
	if b, err := c.cache.Get(ctx, conceptDBsKey); err == nil {
		var dbs []ConceptDB
		if json.Unmarshal(b, &dbs) == nil {
			return dbs, nil
		}
	}

	c.log.Debug("querying MCT endpoint", zap.String("endpoint", "concept-dbs/"))
	resp, err := c.authorized(ctx, http.MethodGet, c.base.String()+"concept-dbs/")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list concept dbs: status %d", resp.StatusCode)
	}
	var body struct {
		Results []ConceptDB `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode concept dbs: %w", err)
	}
	if b, err := json.Marshal(body.Results); err == nil {
		if err := c.cache.Set(ctx, conceptDBsKey, b, conceptDBsTTL); err != nil {
			c.log.Warn("caching concept dbs failed", zap.Error(err))
		}
	}
	return body.Results, nil
}

func (c *Client) hashFor(ctx context.Context, db ConceptDB) (string, error) {
	c.mu.Lock()
	h, ok := c.hashes[db.ID]
	c.mu.Unlock()
	if ok {
		return h, nil
	}

	c.log.Debug("getting hash for concept db", zap.String("cdb_id", string(db.ID)), zap.String("cdb_file", db.CDBFile))
	file, err := c.download(ctx, c.fixPort(db.CDBFile))
	if err != nil {
		return "", err
	}
	defer os.Remove(file)

	h, err = c.hasher.CDBHash(ctx, file)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.hashes[db.ID] = h
	c.mu.Unlock()
	return h, nil
}

// fixPort points a file URL at the trainer's port. The trainer reports
// file URLs without the port it is served on.
func (c *Client) fixPort(fileURL string) string {
	u, err := url.Parse(fileURL)
	if err != nil || c.base.Port() == "" {
		return fileURL
	}
	fixed := *u
	fixed.Host = u.Hostname() + ":" + c.base.Port()
	if fixed.String() != fileURL {
		c.log.Info("fixed concept db url port", zap.String("from", fileURL), zap.String("to", fixed.String()))
	}
	return fixed.String()
}

func (c *Client) download(ctx context.Context, fileURL string) (string, error) {
	resp, err := c.authorized(ctx, http.MethodGet, fileURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: status %d", fileURL, resp.StatusCode)
	}

	f, err := os.CreateTemp("", "mct-cdb-*"+path.Ext(fileURL))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("download %s: %w", fileURL, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	c.log.Info("downloaded concept db", zap.String("url", fileURL), zap.String("file", f.Name()))
	return f.Name(), nil
}

func (c *Client) authorized(ctx context.Context, method, target string) (*http.Response, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Token "+token)
	return c.http.Do(req)
}

// ErrAuth is returned when the trainer rejects the configured credentials.
var ErrAuth = errors.New("MedCATtrainer authentication failed")

func (c *Client) token(ctx context.Context) (string, error) {
	if b, err := c.cache.Get(ctx, tokenKey); err == nil && len(b) > 0 {
		return string(b), nil
	}

	c.log.Info("getting new authentication token")
	payload, err := json.Marshal(map[string]string{"username": c.cfg.Username, "password": c.cfg.Password})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.String()+"api-token-auth/", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Token == "" {
		return "", fmt.Errorf("%w: no token in response", ErrAuth)
	}
	if err := c.cache.Set(ctx, tokenKey, []byte(body.Token), tokenTTL); err != nil {
		c.log.Warn("caching MCT token failed", zap.Error(err))
	}
	return body.Token, nil
}
