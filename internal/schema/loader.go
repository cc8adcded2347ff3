package schema

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
)

// LoadAll reads all collections and relations from the database and populates
// the registry.
func LoadAll(ctx context.Context, db *sql.DB, reg *Registry, log *logrus.Entry) error {
	collections, err := loadCollections(ctx, db, log)
	if err != nil {
		return fmt.Errorf("load collections: %w", err)
	}

	relations, err := loadRelations(ctx, db, log)
	if err != nil {
		return fmt.Errorf("load relations: %w", err)
	}

	reg.Load(collections, relations)

	log.WithFields(logrus.Fields{
		"collections": len(collections),
		"relations":   len(relations),
	}).Info("schema registry loaded")
	return nil
}

// Reload is an alias for LoadAll, called after admin mutations.
func Reload(ctx context.Context, db *sql.DB, reg *Registry, log *logrus.Entry) error {
	return LoadAll(ctx, db, reg, log)
}

func loadCollections(ctx context.Context, db *sql.DB, log *logrus.Entry) ([]*Collection, error) {
	rows, err := db.QueryContext(ctx, "SELECT name, definition FROM _collections ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var collections []*Collection
	for rows.Next() {
		var name string
		var defJSON []byte
		if err := rows.Scan(&name, &defJSON); err != nil {
			return nil, fmt.Errorf("scan collection row: %w", err)
		}

		var collection Collection
		if err := json.Unmarshal(defJSON, &collection); err != nil {
			log.WithField("collection", name).WithError(err).Warn("skipping collection with invalid definition")
			continue
		}
		collections = append(collections, &collection)
	}
	return collections, rows.Err()
}

func loadRelations(ctx context.Context, db *sql.DB, log *logrus.Entry) ([]*Relation, error) {
	rows, err := db.QueryContext(ctx, "SELECT name, source, definition FROM _relations ORDER BY source, name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var relations []*Relation
	for rows.Next() {
		var name, source string
		var defJSON []byte
		if err := rows.Scan(&name, &source, &defJSON); err != nil {
			return nil, fmt.Errorf("scan relation row: %w", err)
		}

		var rel Relation
		if err := json.Unmarshal(defJSON, &rel); err != nil {
			log.WithField("relation", name).WithError(err).Warn("skipping relation with invalid definition")
			continue
		}
		relations = append(relations, &rel)
	}
	return relations, rows.Err()
}
