package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/hirochachacha/go-smb2"

	"github.com/nao1215/crawlkit/internal/model"
)

// defaultSMBPort is the SMB over TCP port.
const defaultSMBPort = "445"

// SMBConfig holds default credentials for SMB hosts. Credentials in a URL
// take precedence.
type SMBConfig struct {
	User     string
	Password string
	Domain   string

	Limits          ContentLimits
	MemoryThreshold int64
	SpoolDir        string
}

// SMBClient fetches smb://[user[:pass]@]host[:port]/share/path URLs. One
// session is opened per host and reused; a failed connect is replayed for
// every later fetch to that host.
type SMBClient struct {
	cfg SMBConfig

	mu    sync.Mutex
	hosts map[string]*smbHost
}

type smbHost struct {
	once    InitOnce
	conn    net.Conn
	session *smb2.Session

	mu     sync.Mutex
	shares map[string]*smb2.Share
}

// smbTarget is a parsed SMB URL.
type smbTarget struct {
	addr     string
	user     string
	password string
	share    string
	path     string
}

// NewSMBClient returns an SMB client.
func NewSMBClient(cfg SMBConfig) *SMBClient {
	return &SMBClient{cfg: cfg, hosts: make(map[string]*smbHost)}
}

// Schemes implements Client.
func (c *SMBClient) Schemes() []string { return []string{"smb"} }

// Close logs off every session.
func (c *SMBClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for key, h := range c.hosts {
		h.mu.Lock()
		for _, s := range h.shares {
			_ = s.Umount()
		}
		h.shares = nil
		h.mu.Unlock()
		if h.session != nil {
			if err := h.session.Logoff(); err != nil {
				errs = append(errs, err)
			}
		}
		if h.conn != nil {
			_ = h.conn.Close()
		}
		delete(c.hosts, key)
	}
	return errors.Join(errs...)
}

// Fetch implements Client.
func (c *SMBClient) Fetch(ctx context.Context, rawURL string, includeBody bool) Outcome {
	start := time.Now()
	t, err := parseSMBURL(rawURL)
	if err != nil {
		return Failed(NewFetchError(ErrorAccess, rawURL, err), nil)
	}

	share, err := c.share(ctx, t)
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			return Failed(fe, nil)
		}
		return Failed(classify(ctx, rawURL, err), nil)
	}
	fs := share.WithContext(ctx)

	name := strings.ReplaceAll(strings.Trim(t.path, "/"), "/", `\`)
	info, err := fs.Stat(name)
	if err != nil {
		return Failed(classify(ctx, rawURL, err), nil)
	}

	if info.IsDir() {
		entries, err := fs.ReadDir(name)
		if err != nil {
			return Failed(classify(ctx, rawURL, err), nil)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			n := e.Name()
			if e.IsDir() {
				n += "/"
			}
			names = append(names, n)
		}
		return Expand(childURLs(dirURL(rawURL), names))
	}

	mediaType := MimeByExtension(info.Name())
	data := &model.ResponseData{
		URL:           rawURL,
		Method:        model.MethodGet,
		MimeType:      mediaType,
		ContentLength: info.Size(),
		LastModified:  info.ModTime(),
		Metadata:      map[string]string{"Mode": info.Mode().String()},
	}
	if fe := c.cfg.Limits.Check(rawURL, mediaType, info.Size()); fe != nil {
		return Failed(fe, data)
	}
	if !includeBody {
		data.Method = model.MethodHead
		data.ExecutionTime = time.Since(start)
		return Fetched(data)
	}

	f, err := fs.Open(name)
	if err != nil {
		return Failed(classify(ctx, rawURL, err), data)
	}
	defer f.Close()

	body, err := Spool(f, c.cfg.Limits.Limit(mediaType), c.cfg.MemoryThreshold, c.cfg.SpoolDir)
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			return Failed(NewFetchError(ErrorTooLarge, rawURL, err), data)
		}
		return Failed(classify(ctx, rawURL, err), data)
	}
	data.Body = body
	data.ContentLength = body.Len()
	data.ExecutionTime = time.Since(start)
	return Fetched(data)
}

// share returns the mounted share for t, connecting to the host on first use.
func (c *SMBClient) share(ctx context.Context, t smbTarget) (*smb2.Share, error) {
	key := t.user + "@" + t.addr

	c.mu.Lock()
	h, ok := c.hosts[key]
	if !ok {
		h = &smbHost{shares: make(map[string]*smb2.Share)}
		c.hosts[key] = h
	}
	c.mu.Unlock()

	if err := h.once.Do(ctx, func(ctx context.Context) error {
		return c.dial(ctx, h, t)
	}); err != nil {
		return nil, connectError("smb://"+t.addr, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.shares[t.share]; ok {
		return s, nil
	}
	s, err := h.session.Mount(t.share)
	if err != nil {
		return nil, fmt.Errorf("failed to mount share %s: %w", t.share, err)
	}
	h.shares[t.share] = s
	return s, nil
}

func (c *SMBClient) dial(ctx context.Context, h *smbHost, t smbTarget) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", t.addr, err)
	}

	user, password := t.user, t.password
	if user == "" {
		user, password = c.cfg.User, c.cfg.Password
	}
	dialer := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     user,
			Password: password,
			Domain:   c.cfg.Domain,
		},
	}
	session, err := dialer.DialContext(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open smb session on %s: %w", t.addr, err)
	}
	h.conn = conn
	h.session = session
	return nil
}

// parseSMBURL splits an smb URL into address, credentials, share and path.
func parseSMBURL(rawURL string) (smbTarget, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return smbTarget{}, fmt.Errorf("invalid smb url %q: %w", rawURL, err)
	}
	if u.Hostname() == "" {
		return smbTarget{}, fmt.Errorf("invalid smb url %q: missing host", rawURL)
	}

	port := u.Port()
	if port == "" {
		port = defaultSMBPort
	}
	t := smbTarget{addr: net.JoinHostPort(u.Hostname(), port)}
	if u.User != nil {
		t.user = u.User.Username()
		t.password, _ = u.User.Password()
	}

	p := path.Clean("/" + u.Path)
	share, rest, _ := strings.Cut(strings.TrimPrefix(p, "/"), "/")
	if share == "" {
		return smbTarget{}, fmt.Errorf("invalid smb url %q: missing share", rawURL)
	}
	t.share = share
	t.path = rest
	return t, nil
}
