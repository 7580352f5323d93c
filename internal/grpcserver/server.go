// Package grpcserver implements the MatchService gRPC server.
//
// It delegates all business logic to matching.Reconciler and review.Service
// and handles only the gRPC transport concerns: metadata extraction, error
// mapping, and conversion between domain types and google.protobuf.Struct
// messages.
package grpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"jobmate/matching-service/internal/logger"
	"jobmate/matching-service/internal/matching"
	"jobmate/matching-service/internal/model"
	"jobmate/matching-service/internal/review"
)

// Reconciler is the matching side of the service. *matching.Reconciler
// satisfies it.
type Reconciler interface {
	Run(ctx context.Context, req matching.Request) (*matching.Report, error)
	Prune(ctx context.Context, claimantID int64, below float64) (int64, error)
}

// Server implements MatchServiceServer.
type Server struct {
	rec Reconciler
	svc *review.Service
	log *zap.Logger
}

// NewServer constructs a gRPC Server.
func NewServer(rec Reconciler, svc *review.Service, log *zap.Logger) *Server {
	return &Server{rec: rec, svc: svc, log: logger.WithFields(log, zap.String("component", "grpc"))}
}

// ─── Request shapes ──────────────────────────────────────────────────────────

type matchRequest struct {
	MatchID int64 `mapstructure:"match_id"`
}

type statusRequest struct {
	MatchID int64  `mapstructure:"match_id"`
	Status  string `mapstructure:"status"`
}

type notesRequest struct {
	MatchID int64  `mapstructure:"match_id"`
	Notes   string `mapstructure:"notes"`
}

type listRequest struct {
	ClaimantID int64  `mapstructure:"claimant_id"`
	Status     string `mapstructure:"status"`
	Limit      int    `mapstructure:"limit"`
	Offset     int    `mapstructure:"offset"`
}

type pruneRequest struct {
	ClaimantID int64   `mapstructure:"claimant_id"`
	Below      float64 `mapstructure:"below"`
}

// ─── RPC implementations ──────────────────────────────────────────────────────

// Reconcile runs the match reconciler for one claimant. A run that ended
// early returns Unavailable with the partial report attached as a detail.
func (s *Server) Reconcile(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req matching.Request
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	rep, err := s.rec.Run(ctx, req)
	if err != nil {
		st := status.Convert(toGRPCError(err))
		if rep != nil {
			if detail, derr := toStruct(rep); derr == nil {
				if withDetail, werr := st.WithDetails(detail); werr == nil {
					st = withDetail
				}
			}
		}
		s.log.Warn("reconcile failed", zap.Int64(logger.FieldClaimantID, req.ClaimantID), zap.Error(err))
		return nil, st.Err()
	}
	return toStruct(rep)
}

// Prune deletes untouched matches below a score.
func (s *Server) Prune(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req pruneRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	n, err := s.rec.Prune(ctx, req.ClaimantID, req.Below)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(map[string]any{"claimant_id": req.ClaimantID, "deleted": n})
}

// GetMatch returns one match.
func (s *Server) GetMatch(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req matchRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	m, err := s.svc.GetMatch(ctx, req.MatchID)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(m)
}

// ListMatches returns a claimant's matches, best first.
func (s *Server) ListMatches(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req listRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	matches, err := s.svc.ListMatches(ctx, req.ClaimantID, model.MatchFilter{
		Status: req.Status,
		Limit:  req.Limit,
		Offset: req.Offset,
	})
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(map[string]any{"matches": matches})
}

// TransitionMatchStatus moves a match forward or closes it.
func (s *Server) TransitionMatchStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.move(ctx, in, s.svc.TransitionMatchStatus)
}

// Reopen moves a match back to an earlier active status.
func (s *Server) Reopen(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.move(ctx, in, s.svc.Reopen)
}

func (s *Server) move(ctx context.Context, in *structpb.Struct,
	fn func(context.Context, int64, string, review.Actor) (*model.Match, error)) (*structpb.Struct, error) {
	actor, err := actorFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	var req statusRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	m, err := fn(ctx, req.MatchID, req.Status, actor)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(m)
}

// UpdateAdvisorNotes sets or clears the advisor notes of a match.
func (s *Server) UpdateAdvisorNotes(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	var req notesRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	m, err := s.svc.UpdateAdvisorNotes(ctx, req.MatchID, req.Notes, actor)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(m)
}

// History returns the status history of a match, oldest first.
func (s *Server) History(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req matchRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	h, err := s.svc.History(ctx, req.MatchID)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(map[string]any{"history": h})
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// actorFromCtx extracts the x-actor-id and x-actor-kind values forwarded by
// the Gateway via gRPC metadata.
func actorFromCtx(ctx context.Context) (review.Actor, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return review.Actor{}, status.Error(codes.Unauthenticated, "missing metadata")
	}
	ids := md.Get("x-actor-id")
	if len(ids) == 0 || ids[0] == "" {
		return review.Actor{}, status.Error(codes.Unauthenticated, "missing x-actor-id metadata")
	}
	actor := review.Actor{ID: ids[0]}
	if kinds := md.Get("x-actor-kind"); len(kinds) > 0 {
		actor.Kind = kinds[0]
	}
	return actor, nil
}

// decode copies a Struct message into a request value. Unknown fields are
// rejected.
func decode(in *structpb.Struct, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out,
		ErrorUnused: true,
	})
	if err != nil {
		return status.Error(codes.Internal, "internal server error")
	}
	if err := dec.Decode(in.AsMap()); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return nil
}

// toStruct converts any JSON-encodable value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	return out, nil
}

// toGRPCError maps domain errors to gRPC status errors.
func toGRPCError(err error) error {
	var ve *model.ValidationError
	var pf *matching.PartialFailureError
	switch {
	case errors.As(err, &ve):
		return status.Error(codes.InvalidArgument, ve.Msg)
	case errors.Is(err, model.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, matching.ErrRunInProgress):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	case errors.As(err, &pf), model.IsTransient(err):
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, "internal server error")
}
