package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ashureev/callrelay/internal/domain"
)

// GenerateMethod is the full RPC name served by a remote responder agent.
// Requests and replies are google.protobuf.Struct messages:
//
//	request: {"user_text": string, "history": [{"role": string, "content": string}]}
//	reply:   {"reply": string}
const GenerateMethod = "/callrelay.v1.Responder/Generate"

// CallerMetadataKey carries the caller identity on outgoing RPCs.
const CallerMetadataKey = "x-caller-id"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

var _ Responder = (*GrpcClient)(nil)

// GrpcClient forwards each turn to a long-lived remote agent over gRPC.
type GrpcClient struct {
	conn   *grpc.ClientConn
	addr   string
	logger *slog.Logger
}

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	DialOptions      []grpc.DialOption
}

// DefaultGrpcClientConfig returns default configuration.
func DefaultGrpcClientConfig() GrpcClientConfig {
	return GrpcClientConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewGrpcClient connects to a remote responder agent and waits until the
// channel is ready so bad endpoints fail at startup.
func NewGrpcClient(cfg GrpcClientConfig, logger *slog.Logger) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultGrpcClientConfig()
	if cfg.Address == "" {
		cfg.Address = defaults.Address
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = defaults.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = defaults.KeepaliveTimeout
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create responder client for %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("responder agent at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to responder agent", "address", cfg.Address)

	return &GrpcClient{
		conn:   conn,
		addr:   cfg.Address,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *GrpcClient) Close() error {
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		c.logger.Warn("failed to close gRPC connection", "error", err)
		return err
	}
	return nil
}

// Generate invokes GenerateMethod with the utterance and prior turns.
func (c *GrpcClient) Generate(ctx context.Context, userText string, history []domain.Turn) (string, error) {
	req, err := encodeGenerateRequest(userText, history)
	if err != nil {
		return "", err
	}

	if caller := CallerFromContext(ctx); caller != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, CallerMetadataKey, caller)
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, GenerateMethod, req, resp); err != nil {
		c.logger.Warn("Responder RPC failed", "error", err, "address", c.addr)
		return "", fmt.Errorf("responder rpc: %w", err)
	}

	reply := strings.TrimSpace(resp.GetFields()["reply"].GetStringValue())
	if reply == "" {
		return "", errEmptyReply
	}
	return reply, nil
}

func encodeGenerateRequest(userText string, history []domain.Turn) (*structpb.Struct, error) {
	turns := make([]any, 0, len(history))
	for _, turn := range history {
		turns = append(turns, map[string]any{
			"role":    string(turn.Role),
			"content": turn.Content,
		})
	}
	req, err := structpb.NewStruct(map[string]any{
		"user_text": userText,
		"history":   turns,
	})
	if err != nil {
		return nil, fmt.Errorf("encode responder request: %w", err)
	}
	return req, nil
}
