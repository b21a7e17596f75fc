package anki

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"resty.dev/v3"

	"paper-tutor/config"
	"paper-tutor/models"
)

const connectVersion = 6

// Client exportiert Fragen als Karten an eine lokal laufende
// AnkiConnect-Instanz. Der Export ist ein Komfort-Feature: ist Anki nicht
// erreichbar, liefert Ping einen Fehler und der Aufrufer lässt es bleiben.
type Client struct {
	httpClient *resty.Client
	deckName   string
	logger     *zap.Logger
}

// NewClient erstellt einen neuen AnkiConnect-Client.
func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	client := resty.New()
	client.SetBaseURL(cfg.AnkiConnectURL)
	client.SetTimeout(5 * time.Second)
	return &Client{
		httpClient: client,
		deckName:   cfg.AnkiDeckName,
		logger:     logger,
	}
}

// Close schließt den darunterliegenden HTTP-Client.
func (c *Client) Close() error {
	return c.httpClient.Close()
}

type connectRequest struct {
	Action  string `json:"action"`
	Version int    `json:"version"`
	Params  any    `json:"params,omitempty"`
}

type connectResponse struct {
	Result any     `json:"result"`
	Error  *string `json:"error"`
}

type note struct {
	DeckName  string            `json:"deckName"`
	ModelName string            `json:"modelName"`
	Fields    map[string]string `json:"fields"`
	Options   noteOptions       `json:"options"`
	Tags      []string          `json:"tags"`
}

type noteOptions struct {
	AllowDuplicate bool `json:"allowDuplicate"`
}

// call führt eine einzelne AnkiConnect-Aktion aus.
func (c *Client) call(ctx context.Context, action string, params any) (*connectResponse, error) {
	var result connectResponse
	response, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(connectRequest{Action: action, Version: connectVersion, Params: params}).
		SetResult(&result).
		Post("/")
	if err != nil {
		return nil, err
	}
	if response.IsError() {
		return nil, fmt.Errorf("ankiconnect status %d", response.StatusCode())
	}
	if result.Error != nil {
		return nil, fmt.Errorf("ankiconnect: %s", *result.Error)
	}
	return &result, nil
}

// Ping prüft, ob AnkiConnect erreichbar ist und Version 6 spricht.
func (c *Client) Ping(ctx context.Context) error {
	result, err := c.call(ctx, "version", nil)
	if err != nil {
		return err
	}
	if version, ok := result.Result.(float64); !ok || int(version) < connectVersion {
		return fmt.Errorf("ankiconnect: unsupported version %v", result.Result)
	}
	return nil
}

// AddCard legt eine Frage als Basic-Karte im konfigurierten Deck an.
func (c *Client) AddCard(ctx context.Context, question *models.Question, paper *models.Paper) error {
	front := question.Text
	if question.Context != "" {
		front += "\n\n" + question.Context
	}
	back := question.CorrectAnswer
	if question.Explanation != "" {
		back += "\n\n" + question.Explanation
	}
	if paper != nil {
		back += "\n\nQuelle: " + paper.Title
	}

	tags := []string{"paper-tutor", question.Type}
	for _, tag := range question.Tags {
		tags = append(tags, strings.ReplaceAll(tag, " ", "_"))
	}

	_, err := c.call(ctx, "addNote", map[string]any{
		"note": note{
			DeckName:  c.deckName,
			ModelName: "Basic",
			Fields: map[string]string{
				"Front": front,
				"Back":  back,
			},
			Options: noteOptions{AllowDuplicate: false},
			Tags:    tags,
		},
	})
	if err != nil {
		return err
	}

	c.logger.Info("Karte nach Anki exportiert",
		zap.String("question_id", question.ID),
		zap.String("deck", c.deckName))
	return nil
}
