package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/plagscan/engine/pkg/astcanon"
	"github.com/plagscan/engine/pkg/fingerprint"
	"github.com/plagscan/engine/pkg/fpstore"
	"github.com/plagscan/engine/pkg/lang"
)

// serviceName names the remote fpstore.Store RPC surface spec §4.5 asks
// for: "a set-intersection primitive, not a client-side loop". Each
// method below is a single round trip that returns an already-reduced
// result (a count, a set, a bool) computed server-side over the
// server's own resident fingerprint/AST data, never a bulk transfer
// followed by client-side set math.
const serviceName = "plagscan.store.v1.FingerprintStore"

func fullMethod(name string) string {
	return "/" + serviceName + "/" + name
}

// anchorWire is fingerprint.Anchor flattened for JSON transport (the
// codec in codec.go), since fingerprint.Anchor's lang.Position fields
// are unexported-free but keeping them nested adds no value over a flat
// struct on the wire.
type anchorWire struct {
	StartLine uint32 `json:"start_line"`
	StartCol  uint32 `json:"start_col"`
	EndLine   uint32 `json:"end_line"`
	EndCol    uint32 `json:"end_col"`
}

func toAnchorWire(a fingerprint.Anchor) anchorWire {
	return anchorWire{
		StartLine: a.Start.Line, StartCol: a.Start.Column,
		EndLine: a.End.Line, EndCol: a.End.Column,
	}
}

func fromAnchorWire(w anchorWire) fingerprint.Anchor {
	return fingerprint.Anchor{
		Start: lang.Position{Line: w.StartLine, Column: w.StartCol},
		End:   lang.Position{Line: w.EndLine, Column: w.EndCol},
	}
}

func positionsWire(positions map[uint64][]fingerprint.Anchor) map[string][]anchorWire {
	out := make(map[string][]anchorWire, len(positions))

	for h, anchors := range positions {
		wire := make([]anchorWire, len(anchors))
		for i, a := range anchors {
			wire[i] = toAnchorWire(a)
		}

		out[strconv.FormatUint(h, 10)] = wire
	}

	return out
}

func positionsFromWire(wire map[string][]anchorWire) map[uint64][]fingerprint.Anchor {
	out := make(map[uint64][]fingerprint.Anchor, len(wire))

	for k, anchors := range wire {
		h, err := strconv.ParseUint(k, 10, 64)
		if err != nil {
			continue
		}

		list := make([]fingerprint.Anchor, len(anchors))
		for i, a := range anchors {
			list[i] = fromAnchorWire(a)
		}

		out[h] = list
	}

	return out
}

func astWire(ms astcanon.Multiset) map[string]int {
	out := make(map[string]int, len(ms))
	for h, n := range ms {
		out[strconv.FormatUint(h, 10)] = n
	}

	return out
}

func astFromWire(wire map[string]int) astcanon.Multiset {
	out := make(astcanon.Multiset, len(wire))

	for k, n := range wire {
		h, err := strconv.ParseUint(k, 10, 64)
		if err != nil {
			continue
		}

		out[h] = n
	}

	return out
}

func hashSetWire(hashes map[uint64]struct{}) []string {
	out := make([]string, 0, len(hashes))
	for h := range hashes {
		out = append(out, strconv.FormatUint(h, 10))
	}

	return out
}

func hashSetFromWire(wire []string) map[uint64]struct{} {
	out := make(map[uint64]struct{}, len(wire))

	for _, s := range wire {
		h, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			continue
		}

		out[h] = struct{}{}
	}

	return out
}

// --- wire messages ---

type putRequest struct {
	ContentHash string            `json:"content_hash"`
	Positions   map[string][]anchorWire `json:"positions"`
	TotalWeight int               `json:"total_weight"`
	AST         map[string]int    `json:"ast"`
	TTLSeconds  int64             `json:"ttl_seconds"`
}

type boolResponse struct {
	Value bool `json:"value"`
}

type contentHashRequest struct {
	ContentHash string `json:"content_hash"`
}

type fingerprintSetResponse struct {
	Found       bool                    `json:"found"`
	Positions   map[string][]anchorWire `json:"positions"`
	TotalWeight int                     `json:"total_weight"`
}

type astResponse struct {
	Found bool           `json:"found"`
	AST   map[string]int `json:"ast"`
}

type pairRequest struct {
	H1 string `json:"h1"`
	H2 string `json:"h2"`
}

type hashSetResponse struct {
	Hashes []string `json:"hashes"`
}

type countResponse struct {
	Count int `json:"count"`
}

type positionsRequest struct {
	ContentHash string   `json:"content_hash"`
	Hashes      []string `json:"hashes"`
}

type cachePairRequest struct {
	H1      string  `json:"h1"`
	H2      string  `json:"h2"`
	ASTSim  float64 `json:"ast_sim"`
	Matches []byte  `json:"matches"`
}

type pairResultResponse struct {
	Found   bool    `json:"found"`
	ASTSim  float64 `json:"ast_sim"`
	Matches []byte  `json:"matches"`
}

// Server exposes a local fpstore.Store over gRPC using the registered
// JSON codec. It implements the handler side of every RPC named below.
type Server struct {
	backend fpstore.Store
}

// NewServer wraps backend for remote access.
func NewServer(backend fpstore.Store) *Server {
	return &Server{backend: backend}
}

// Register attaches the fpstore service to a grpc.Server.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "Put", Handler: s.handlePut},
			{MethodName: "HasToken", Handler: s.handleHasToken},
			{MethodName: "HasAST", Handler: s.handleHasAST},
			{MethodName: "GetFingerprints", Handler: s.handleGetFingerprints},
			{MethodName: "GetAST", Handler: s.handleGetAST},
			{MethodName: "IntersectTokenHashes", Handler: s.handleIntersectTokenHashes},
			{MethodName: "IntersectAST", Handler: s.handleIntersectAST},
			{MethodName: "CardAST", Handler: s.handleCardAST},
			{MethodName: "Positions", Handler: s.handlePositions},
			{MethodName: "CachePair", Handler: s.handleCachePair},
			{MethodName: "GetPair", Handler: s.handleGetPair},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "plagscan/fpstore.proto",
	}, s)
}

func (s *Server) handlePut(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var req putRequest
	if err := dec(&req); err != nil {
		return nil, fmt.Errorf("store: decode Put: %w", err)
	}

	fp := fingerprint.Set{Positions: positionsFromWire(req.Positions), TotalWeight: req.TotalWeight}
	ast := astFromWire(req.AST)

	err := s.backend.Put(ctx, req.ContentHash, fp, ast, time.Duration(req.TTLSeconds)*time.Second)

	return &boolResponse{Value: err == nil}, err
}

func (s *Server) handleHasToken(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var req contentHashRequest
	if err := dec(&req); err != nil {
		return nil, fmt.Errorf("store: decode HasToken: %w", err)
	}

	ok, err := s.backend.HasToken(ctx, req.ContentHash)

	return &boolResponse{Value: ok}, err
}

func (s *Server) handleHasAST(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var req contentHashRequest
	if err := dec(&req); err != nil {
		return nil, fmt.Errorf("store: decode HasAST: %w", err)
	}

	ok, err := s.backend.HasAST(ctx, req.ContentHash)

	return &boolResponse{Value: ok}, err
}

func (s *Server) handleGetFingerprints(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var req contentHashRequest
	if err := dec(&req); err != nil {
		return nil, fmt.Errorf("store: decode GetFingerprints: %w", err)
	}

	fp, ok, err := s.backend.GetFingerprints(ctx, req.ContentHash)
	if err != nil {
		return nil, err
	}

	return &fingerprintSetResponse{Found: ok, Positions: positionsWire(fp.Positions), TotalWeight: fp.TotalWeight}, nil
}

func (s *Server) handleGetAST(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var req contentHashRequest
	if err := dec(&req); err != nil {
		return nil, fmt.Errorf("store: decode GetAST: %w", err)
	}

	ms, ok, err := s.backend.GetAST(ctx, req.ContentHash)
	if err != nil {
		return nil, err
	}

	return &astResponse{Found: ok, AST: astWire(ms)}, nil
}

func (s *Server) handleIntersectTokenHashes(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var req pairRequest
	if err := dec(&req); err != nil {
		return nil, fmt.Errorf("store: decode IntersectTokenHashes: %w", err)
	}

	hashes, err := s.backend.IntersectTokenHashes(ctx, req.H1, req.H2)
	if err != nil {
		return nil, err
	}

	return &hashSetResponse{Hashes: hashSetWire(hashes)}, nil
}

func (s *Server) handleIntersectAST(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var req pairRequest
	if err := dec(&req); err != nil {
		return nil, fmt.Errorf("store: decode IntersectAST: %w", err)
	}

	count, err := s.backend.IntersectAST(ctx, req.H1, req.H2)

	return &countResponse{Count: count}, err
}

func (s *Server) handleCardAST(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var req contentHashRequest
	if err := dec(&req); err != nil {
		return nil, fmt.Errorf("store: decode CardAST: %w", err)
	}

	count, err := s.backend.CardAST(ctx, req.ContentHash)

	return &countResponse{Count: count}, err
}

func (s *Server) handlePositions(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var req positionsRequest
	if err := dec(&req); err != nil {
		return nil, fmt.Errorf("store: decode Positions: %w", err)
	}

	positions, err := s.backend.Positions(ctx, req.ContentHash, hashSetFromWire(req.Hashes))
	if err != nil {
		return nil, err
	}

	return &fingerprintSetResponse{Found: true, Positions: positionsWire(positions)}, nil
}

func (s *Server) handleCachePair(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var req cachePairRequest
	if err := dec(&req); err != nil {
		return nil, fmt.Errorf("store: decode CachePair: %w", err)
	}

	err := s.backend.CachePair(ctx, req.H1, req.H2, fpstore.PairResult{ASTSim: req.ASTSim, Matches: req.Matches})

	return &boolResponse{Value: err == nil}, err
}

func (s *Server) handleGetPair(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var req pairRequest
	if err := dec(&req); err != nil {
		return nil, fmt.Errorf("store: decode GetPair: %w", err)
	}

	r, ok, err := s.backend.GetPair(ctx, req.H1, req.H2)
	if err != nil {
		return nil, err
	}

	return &pairResultResponse{Found: ok, ASTSim: r.ASTSim, Matches: r.Matches}, nil
}

// Client is a remote fpstore.Store implementation talking to a Server
// over a grpc.ClientConn. It satisfies the same contract the in-memory
// and badger-backed stores do, so the scheduler (C9) and similarity
// engine (C7) never know they are crossing a network boundary.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient wraps an established connection. Callers are responsible
// for dialing with grpc.WithDefaultCallOptions(grpc.CallContentSubtype
// (jsonCodecName)) so invocations use the registered JSON codec.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// DialClient dials address with insecure transport credentials (the
// teacher pack's aide/grpcapi.Client idiom) and the registered JSON
// codec, returning a ready-to-use remote Store.
func DialClient(address string) (*Client, error) {
	conn, err := grpc.NewClient(address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("store: dial %s: %w", address, err)
	}

	return NewClient(conn), nil
}

var _ fpstore.Store = (*Client)(nil)

// Close releases the underlying connection.
func (c *Client) Close() error {
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("store: close client: %w", err)
	}

	return nil
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	if err := c.conn.Invoke(ctx, fullMethod(method), req, resp); err != nil {
		return fmt.Errorf("%w: %w", fpstore.ErrUnavailable, err)
	}

	return nil
}

// Put implements fpstore.Store.
func (c *Client) Put(ctx context.Context, h string, fp fingerprint.Set, ast astcanon.Multiset, ttl time.Duration) error {
	req := &putRequest{
		ContentHash: h,
		Positions:   positionsWire(fp.Positions),
		TotalWeight: fp.TotalWeight,
		AST:         astWire(ast),
		TTLSeconds:  int64(ttl / time.Second),
	}

	return c.invoke(ctx, "Put", req, &boolResponse{})
}

// HasToken implements fpstore.Store.
func (c *Client) HasToken(ctx context.Context, h string) (bool, error) {
	var resp boolResponse

	err := c.invoke(ctx, "HasToken", &contentHashRequest{ContentHash: h}, &resp)

	return resp.Value, err
}

// HasAST implements fpstore.Store.
func (c *Client) HasAST(ctx context.Context, h string) (bool, error) {
	var resp boolResponse

	err := c.invoke(ctx, "HasAST", &contentHashRequest{ContentHash: h}, &resp)

	return resp.Value, err
}

// GetFingerprints implements fpstore.Store.
func (c *Client) GetFingerprints(ctx context.Context, h string) (fingerprint.Set, bool, error) {
	var resp fingerprintSetResponse

	err := c.invoke(ctx, "GetFingerprints", &contentHashRequest{ContentHash: h}, &resp)
	if err != nil {
		return fingerprint.Set{}, false, err
	}

	return fingerprint.Set{Positions: positionsFromWire(resp.Positions), TotalWeight: resp.TotalWeight}, resp.Found, nil
}

// GetAST implements fpstore.Store.
func (c *Client) GetAST(ctx context.Context, h string) (astcanon.Multiset, bool, error) {
	var resp astResponse

	err := c.invoke(ctx, "GetAST", &contentHashRequest{ContentHash: h}, &resp)
	if err != nil {
		return nil, false, err
	}

	return astFromWire(resp.AST), resp.Found, nil
}

// IntersectTokenHashes implements fpstore.Store.
func (c *Client) IntersectTokenHashes(ctx context.Context, h1, h2 string) (map[uint64]struct{}, error) {
	var resp hashSetResponse

	err := c.invoke(ctx, "IntersectTokenHashes", &pairRequest{H1: h1, H2: h2}, &resp)
	if err != nil {
		return nil, err
	}

	return hashSetFromWire(resp.Hashes), nil
}

// IntersectAST implements fpstore.Store.
func (c *Client) IntersectAST(ctx context.Context, h1, h2 string) (int, error) {
	var resp countResponse

	err := c.invoke(ctx, "IntersectAST", &pairRequest{H1: h1, H2: h2}, &resp)

	return resp.Count, err
}

// CardAST implements fpstore.Store.
func (c *Client) CardAST(ctx context.Context, h string) (int, error) {
	var resp countResponse

	err := c.invoke(ctx, "CardAST", &contentHashRequest{ContentHash: h}, &resp)

	return resp.Count, err
}

// Positions implements fpstore.Store.
func (c *Client) Positions(ctx context.Context, h string, hashes map[uint64]struct{}) (map[uint64][]fingerprint.Anchor, error) {
	var resp fingerprintSetResponse

	err := c.invoke(ctx, "Positions", &positionsRequest{ContentHash: h, Hashes: hashSetWire(hashes)}, &resp)
	if err != nil {
		return nil, err
	}

	return positionsFromWire(resp.Positions), nil
}

// CachePair implements fpstore.Store.
func (c *Client) CachePair(ctx context.Context, h1, h2 string, result fpstore.PairResult) error {
	req := &cachePairRequest{H1: h1, H2: h2, ASTSim: result.ASTSim, Matches: result.Matches}

	return c.invoke(ctx, "CachePair", req, &boolResponse{})
}

// GetPair implements fpstore.Store.
func (c *Client) GetPair(ctx context.Context, h1, h2 string) (fpstore.PairResult, bool, error) {
	var resp pairResultResponse

	err := c.invoke(ctx, "GetPair", &pairRequest{H1: h1, H2: h2}, &resp)
	if err != nil {
		return fpstore.PairResult{}, false, err
	}

	return fpstore.PairResult{ASTSim: resp.ASTSim, Matches: resp.Matches}, resp.Found, nil
}
