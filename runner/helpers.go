package runner

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"web/papercloud/cluster"
	"web/papercloud/paper"
)

// frame converts the scene state to a response. The caller holds s.mu.
func (s *session) frame() *FrameResponse {
	return &FrameResponse{
		ID:       s.info.ID,
		Snapshot: s.scene.Snapshot(),
		Plan:     s.scene.LastPlan(),
		Settings: s.scene.Session().Load(),
	}
}

// loadStatus maps paper store failures to gRPC codes
func loadStatus(err error) error {
	switch {
	case errors.Is(err, paper.ErrSourceUnavailable):
		return status.Errorf(codes.NotFound, "failed to load papers: %v", err)
	case errors.Is(err, paper.ErrMalformedStream):
		return status.Errorf(codes.DataLoss, "failed to load papers: %v", err)
	}
	return status.Errorf(codes.Internal, "failed to load papers: %v", err)
}

func clusterCounts(ix *cluster.Index) []int {
	counts := make([]int, 0, paper.NumDepths)
	for depth := paper.MinDepth; depth <= paper.MaxDepth; depth++ {
		counts = append(counts, ix.Len(depth))
	}
	return counts
}

// delimiter is the first rune of s, ',' when s is empty.
func delimiter(s string) rune {
	for _, r := range s {
		return r
	}
	return ','
}
