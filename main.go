package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"

	"github.com/asaidimu/go-nakala/config"
	"github.com/asaidimu/go-nakala/core/document"
	"github.com/asaidimu/go-nakala/core/query"
	"github.com/asaidimu/go-nakala/core/schema"
	"github.com/asaidimu/go-nakala/sqlite"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	db, err := sql.Open("sqlite3", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	registry := schema.NewRegistry()
	mustRegister(registry, &schema.ContentType{
		UID:             "api::article.article",
		Kind:            schema.KindCollectionType,
		TableName:       "articles",
		DraftAndPublish: true,
		Localized:       true,
		Attributes: map[string]*schema.Attribute{
			"title": {Type: schema.TypeString, Required: true},
			"body":  {Type: schema.TypeRichText},
			"views": {Type: schema.TypeInteger},
			"author": {Type: schema.TypeRelation, Relation: &schema.Relation{
				Kind:       schema.RelationManyToOne,
				Target:     "api::author.author",
				JoinColumn: &schema.JoinColumn{Name: "author_id", ReferencedColumn: "id"},
			}},
		},
	})
	mustRegister(registry, &schema.ContentType{
		UID:       "api::author.author",
		Kind:      schema.KindCollectionType,
		TableName: "authors",
		Attributes: map[string]*schema.Attribute{
			"name":  {Type: schema.TypeString, Required: true},
			"email": {Type: schema.TypeEmail},
		},
	})

	ctx := context.Background()
	if err := sqlite.CreateTables(ctx, db, registry, logger); err != nil {
		log.Fatalf("Failed to create tables: %v", err)
	}

	engine, err := document.NewEngine(document.Options{
		Registry:      registry,
		Dialect:       sqlite.New(),
		DB:            db,
		Logger:        logger,
		DefaultLocale: cfg.Engine.DefaultLocale,
	})
	if err != nil {
		log.Fatalf("Failed to create document engine: %v", err)
	}

	unsubscribe := engine.Subscribe(document.EventEntryPublish, func(ctx context.Context, event document.Event) error {
		fmt.Printf("published %s (%s)\n", event.DocumentID, event.UID)
		return nil
	})
	defer unsubscribe()

	authors, err := engine.Documents("api::author.author")
	if err != nil {
		log.Fatalf("Failed to get author service: %v", err)
	}
	author, err := authors.Create(ctx, &document.Params{Data: query.Entity{
		"name":  "Ada Lovelace",
		"email": "ada@example.com",
	}})
	if err != nil {
		log.Fatalf("Failed to create author: %v", err)
	}

	articles, err := engine.Documents("api::article.article")
	if err != nil {
		log.Fatalf("Failed to get article service: %v", err)
	}

	draft, err := articles.Create(ctx, &document.Params{Data: query.Entity{
		"title":  "Notes on the Analytical Engine",
		"body":   "On the composition of operations...",
		"views":  0,
		"author": author["id"],
	}})
	if err != nil {
		log.Fatalf("Failed to create article: %v", err)
	}
	documentID := draft["documentId"].(string)
	fmt.Printf("created draft %s\n", documentID)

	if _, err := articles.Publish(ctx, documentID, &document.Params{}); err != nil {
		log.Fatalf("Failed to publish article: %v", err)
	}

	published, err := articles.FindMany(ctx, &document.Params{
		Status:   document.StatusPublished,
		Populate: []string{"author"},
		OrderBy:  "title:asc",
	})
	if err != nil {
		log.Fatalf("Failed to list published articles: %v", err)
	}
	pretty, _ := json.MarshalIndent(published, "", "  ")
	fmt.Printf("published articles:\n%s\n", pretty)

	count, err := articles.Count(ctx, &document.Params{Status: document.StatusDraft})
	if err != nil {
		log.Fatalf("Failed to count drafts: %v", err)
	}
	fmt.Printf("draft count: %d\n", count)
}

func mustRegister(registry *schema.Registry, ct *schema.ContentType) {
	if err := registry.Register(ct); err != nil {
		log.Fatalf("Failed to register %s: %v", ct.UID, err)
	}
}
