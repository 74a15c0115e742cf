package graphstore

import (
	"context"

	"go.uber.org/zap"

	"github.com/proethica/ontextract/internal/graph"
)

// LogSink writes converted nodes to the structured log. It is the default
// sink when no graph database is configured.
type LogSink struct{}

// NewLogSink creates a logging sink.
func NewLogSink() *LogSink {
	return &LogSink{}
}

func (s *LogSink) Publish(_ context.Context, res *graph.Result) error {
	log := zap.L().With(
		zap.Int64("case_id", res.CaseID),
		zap.String("concept", string(res.Concept)),
	)
	for _, node := range res.Nodes {
		log.Info("graph: node",
			zap.String("uri", node.URI),
			zap.String("label", node.Label),
			zap.Strings("types", node.Types),
			zap.Bool("individual", node.Individual),
		)
	}
	return nil
}

func (s *LogSink) Close(context.Context) error {
	return nil
}
