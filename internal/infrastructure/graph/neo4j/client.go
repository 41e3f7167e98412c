package neo4j

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/jmrestrepo/expedientes-rag/internal/core/domain"
	"github.com/jmrestrepo/expedientes-rag/internal/core/ports"
)

const networkEdgeLimit = 1000

// Client reads the co-occurrence network of persons mentioned together in
// case files. The graph is populated by the ingestion pipeline; this side is
// strictly read-only and never participates in answering a query.
type Client struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger
}

var _ ports.GraphStore = (*Client)(nil)

type Config struct {
	URI      string
	User     string
	Password string
	Database string
}

func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""), func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = 10
		c.SocketConnectTimeout = 5 * time.Second
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrBackendUnavailable, "neo4j connect", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, domain.WrapError(domain.ErrBackendUnavailable, "neo4j verify connectivity", err)
	}

	return &Client{driver: driver, database: cfg.Database, logger: logger}, nil
}

func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.driver == nil {
		return nil
	}
	return c.driver.Close(ctx)
}

// Network returns persons linked by VINCULADO_CON edges with a mention
// frequency of at least minFreq. Edges come back ordered by frequency so
// truncation at the limit keeps the strongest links.
func (c *Client) Network(ctx context.Context, minFreq int) (domain.GraphNetwork, error) {
	if minFreq < 1 {
		minFreq = 1
	}

	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: c.database,
	})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (a:Persona)-[r:VINCULADO_CON]->(b:Persona)
			WHERE r.frecuencia >= $minFreq
			RETURN a.nombre AS origen, a.tipo AS origenTipo,
			       b.nombre AS destino, b.tipo AS destinoTipo,
			       r.frecuencia AS frecuencia
			ORDER BY r.frecuencia DESC
			LIMIT $limit`,
			map[string]any{"minFreq": minFreq, "limit": networkEdgeLimit},
		)
		if err != nil {
			return nil, err
		}

		network := domain.GraphNetwork{
			Nodes: []domain.GraphNode{},
			Edges: []domain.GraphEdge{},
		}
		seen := make(map[string]bool)

		for res.Next(ctx) {
			rec := res.Record()
			origen := stringValue(rec, "origen")
			destino := stringValue(rec, "destino")
			if origen == "" || destino == "" {
				continue
			}
			if !seen[origen] {
				seen[origen] = true
				network.Nodes = append(network.Nodes, domain.GraphNode{
					Nombre: domain.RepairText(origen),
					Tipo:   stringValue(rec, "origenTipo"),
				})
			}
			if !seen[destino] {
				seen[destino] = true
				network.Nodes = append(network.Nodes, domain.GraphNode{
					Nombre: domain.RepairText(destino),
					Tipo:   stringValue(rec, "destinoTipo"),
				})
			}
			network.Edges = append(network.Edges, domain.GraphEdge{
				Origen:     domain.RepairText(origen),
				Destino:    domain.RepairText(destino),
				Relacion:   "VINCULADO_CON",
				Frecuencia: intValue(rec, "frecuencia"),
			})
		}
		if err := res.Err(); err != nil {
			return nil, err
		}
		return network, nil
	})
	if err != nil {
		return domain.GraphNetwork{}, wrapGraphError("graph network", err)
	}

	network := result.(domain.GraphNetwork)
	c.logger.Debug("graph network loaded",
		slog.Int("min_freq", minFreq),
		slog.Int("nodes", len(network.Nodes)),
		slog.Int("edges", len(network.Edges)),
	)
	return network, nil
}

func stringValue(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func intValue(rec *neo4j.Record, key string) int {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return 0
	}
	n, _ := v.(int64)
	return int(n)
}

func wrapGraphError(operation string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.WrapError(domain.ErrTimeout, operation, err)
	case errors.Is(err, context.Canceled):
		return domain.WrapError(domain.ErrCanceled, operation, err)
	default:
		return domain.WrapError(domain.ErrBackendUnavailable, operation, err)
	}
}
