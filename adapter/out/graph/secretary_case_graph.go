package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"secretary_server/core/domain"
	"secretary_server/core/port/out"
)

// =============================================================================
// Case Graph Adapter
// =============================================================================

// CaseGraphAdapter links (:Case)-[:FILED_IN]->(:Court), (:Party)-[:PARTY_TO]->(:Case)
// and (:Document)-[:BELONGS_TO]->(:Case), scoped per user.
type CaseGraphAdapter struct {
	driver neo4j.DriverWithContext
	dbName string
}

func NewCaseGraphAdapter(driver neo4j.DriverWithContext, dbName string) *CaseGraphAdapter {
	return &CaseGraphAdapter{driver: driver, dbName: dbName}
}

var _ out.CaseGraph = (*CaseGraphAdapter)(nil)

// EnsureIndexes creates the lookup indexes. Existing ones are left alone.
func (a *CaseGraphAdapter) EnsureIndexes(ctx context.Context) error {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.dbName})
	defer session.Close(ctx)

	queries := []string{
		`CREATE INDEX case_key_idx IF NOT EXISTS FOR (c:Case) ON (c.user_id, c.number)`,
		`CREATE INDEX document_id_idx IF NOT EXISTS FOR (d:Document) ON (d.document_id)`,
		`CREATE INDEX party_name_idx IF NOT EXISTS FOR (p:Party) ON (p.user_id, p.name)`,
		`CREATE INDEX court_name_idx IF NOT EXISTS FOR (c:Court) ON (c.name)`,
	}
	for _, query := range queries {
		if _, err := session.Run(ctx, query, nil); err != nil {
			return fmt.Errorf("neo4j index: %w", err)
		}
	}
	return nil
}

// RecordDocument merges the document and its case. Documents without a case
// number are stored unlinked.
func (a *CaseGraphAdapter) RecordDocument(ctx context.Context, documentID, userID string, meta *domain.LegalMetadata) error {
	if meta == nil {
		return nil
	}
	params := map[string]any{
		"documentID":   documentID,
		"userID":       userID,
		"documentType": deref(meta.DocumentType),
		"caseNumber":   deref(meta.CaseNumber),
		"court":        deref(meta.Court),
		"parties":      nonEmpty(meta.Parties),
	}

	session := a.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: a.dbName,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (d:Document {document_id: $documentID})
			SET d.user_id = $userID, d.type = $documentType, d.updated_at = datetime()`, params); err != nil {
			return nil, err
		}
		if params["caseNumber"] == "" {
			return nil, nil
		}

		if _, err := tx.Run(ctx, `
			MATCH (d:Document {document_id: $documentID})
			MERGE (c:Case {user_id: $userID, number: $caseNumber})
			MERGE (d)-[:BELONGS_TO]->(c)`, params); err != nil {
			return nil, err
		}
		if params["court"] != "" {
			if _, err := tx.Run(ctx, `
				MATCH (c:Case {user_id: $userID, number: $caseNumber})
				MERGE (ct:Court {name: $court})
				MERGE (c)-[:FILED_IN]->(ct)`, params); err != nil {
				return nil, err
			}
		}
		_, err := tx.Run(ctx, `
			MATCH (c:Case {user_id: $userID, number: $caseNumber})
			UNWIND $parties AS party
			MERGE (p:Party {user_id: $userID, name: party})
			MERGE (p)-[:PARTY_TO]->(c)`, params)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("failed to record document graph: %w", err)
	}
	return nil
}

// CaseDocuments returns the document ids linked to a case.
func (a *CaseGraphAdapter) CaseDocuments(ctx context.Context, userID, caseNumber string) ([]string, error) {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.dbName, AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	ids, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (d:Document)-[:BELONGS_TO]->(:Case {user_id: $userID, number: $caseNumber})
			RETURN d.document_id AS id ORDER BY d.updated_at`,
			map[string]any{"userID": userID, "caseNumber": caseNumber})
		if err != nil {
			return nil, err
		}
		var ids []string
		for res.Next(ctx) {
			if id, ok := res.Record().Get("id"); ok {
				if s, ok := id.(string); ok {
					ids = append(ids, s)
				}
			}
		}
		return ids, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read case documents: %w", err)
	}
	list, _ := ids.([]string)
	return list, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func nonEmpty(in []string) []string {
	res := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			res = append(res, s)
		}
	}
	return res
}
