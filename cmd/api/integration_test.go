package main

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/PaulBabatuyi/petmarket-gRPC/internal/auth"
	"github.com/PaulBabatuyi/petmarket-gRPC/internal/cache"
	"github.com/PaulBabatuyi/petmarket-gRPC/internal/data"
	"github.com/PaulBabatuyi/petmarket-gRPC/internal/middleware"
)

const bufSize = 1024 * 1024

type testClient struct {
	conn *grpc.ClientConn
	jwt  *auth.JWTManager
}

// startServer runs the full interceptor chain over an in-memory store.
func startServer(t *testing.T) *testClient {
	t.Helper()
	srv, _ := newTestServer(t)
	jwtMgr := auth.NewJWTManager("test-secret", time.Hour)
	limiter := middleware.NewLimiterStore(600, 50, time.Minute)
	t.Cleanup(limiter.Stop)

	lis := bufconn.Listen(bufSize)
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			loggingUnaryInterceptor(srv.log),
			authUnaryInterceptor(jwtMgr),
			middleware.RateLimitUnaryInterceptor(limiter, limitedMethods, nil),
		),
		grpc.ChainStreamInterceptor(
			loggingStreamInterceptor(srv.log),
			authStreamInterceptor(jwtMgr),
		),
	)
	registerService(s, srv)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	checkReadiness(context.Background(), hs, map[string]pinger{"cache": cache.NewMemory()}, srv.log)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("failed to dial bufnet: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &testClient{conn: conn, jwt: jwtMgr}
}

func (c *testClient) ctx(t *testing.T, p *data.Principal) context.Context {
	t.Helper()
	if p == nil {
		return context.Background()
	}
	token, _, err := c.jwt.GenerateToken(*p)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+token)
}

func (c *testClient) call(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	err = c.conn.Invoke(ctx, fullMethod(method), in, out)
	return out, err
}

func TestGateway_EndToEnd(t *testing.T) {
	c := startServer(t)
	asBob := c.ctx(t, &bob)
	asAlice := c.ctx(t, &alice)

	// anonymous writes are rejected, browsing is public
	if _, err := c.call(context.Background(), "AddPet", map[string]any{}); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
	if _, err := c.call(context.Background(), "ListPets", map[string]any{"category": "All"}); err != nil {
		t.Fatalf("ListPets failed: %v", err)
	}

	added, err := c.call(asBob, "AddPet", map[string]any{"pet": map[string]any{"name": "Rex", "category": "Dogs"}})
	if err != nil {
		t.Fatalf("AddPet failed: %v", err)
	}
	petID := added.GetFields()["pet"].GetStructValue().GetFields()["id"].GetStringValue()
	if petID == "" {
		t.Fatalf("AddPet returned no id: %v", added)
	}

	started, err := c.call(asAlice, "StartConversation", map[string]any{"petId": petID})
	if err != nil {
		t.Fatalf("StartConversation failed: %v", err)
	}
	convID := started.GetFields()["conversationId"].GetStringValue()
	if convID != "alice@example.com|bob@example.com" {
		t.Fatalf("unexpected conversation id %q", convID)
	}

	// bob watches the conversation
	streamCtx, cancel := context.WithCancel(asBob)
	defer cancel()
	stream, err := c.conn.NewStream(streamCtx, &serviceDesc.Streams[0], fullMethod("StreamMessages"))
	if err != nil {
		t.Fatalf("NewStream failed: %v", err)
	}
	req, _ := structpb.NewStruct(map[string]any{"conversationId": convID})
	if err := stream.SendMsg(req); err != nil {
		t.Fatalf("SendMsg failed: %v", err)
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatalf("CloseSend failed: %v", err)
	}
	first := &structpb.Struct{}
	if err := stream.RecvMsg(first); err != nil {
		t.Fatalf("RecvMsg failed: %v", err)
	}

	if _, err := c.call(asAlice, "SendMessage", map[string]any{"conversationId": convID, "text": "hi bob"}); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	next := &structpb.Struct{}
	if err := stream.RecvMsg(next); err != nil {
		t.Fatalf("RecvMsg failed: %v", err)
	}
	msgs := next.GetFields()["messages"].GetListValue().GetValues()
	if len(msgs) != 1 || msgs[0].GetStructValue().GetFields()["text"].GetStringValue() != "hi bob" {
		t.Fatalf("unexpected snapshot: %v", next)
	}

	// empty messages carry a machine-readable reason
	_, err = c.call(asAlice, "SendMessage", map[string]any{"conversationId": convID, "text": "  "})
	if status.Code(err) != codes.InvalidArgument || errorReason(err) != "EMPTY_MESSAGE" {
		t.Fatalf("expected EMPTY_MESSAGE, got %v", err)
	}

	// the owner may not open a chat with themselves
	_, err = c.call(asBob, "StartConversation", map[string]any{"petId": petID})
	if errorReason(err) != "SELF_CONVERSATION" {
		t.Fatalf("expected SELF_CONVERSATION, got %v", err)
	}

	inbox, err := c.call(asBob, "ListConversations", map[string]any{})
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	rows := inbox.GetFields()["conversations"].GetListValue().GetValues()
	if len(rows) != 1 || rows[0].GetStructValue().GetFields()["unread"].GetNumberValue() != 1 {
		t.Fatalf("unexpected inbox: %v", inbox)
	}
}

func TestGateway_HealthCheckIsPublic(t *testing.T) {
	c := startServer(t)

	resp, err := healthpb.NewHealthClient(c.conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: serviceName})
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", resp.GetStatus())
	}
}
