package model

import (
	"time"

	"github.com/google/uuid"
)

// DeletedBody replaces the body of a soft-deleted message.
const DeletedBody = "This message was deleted"

type MessageType string

const (
	MessageText         MessageType = "text"
	MessageContribution MessageType = "contribution"
	MessageSystem       MessageType = "system"
)

// [MESSAGE] CORE ENTITY REPRESENTING A CHAT ELEMENT
//
// A deleted message keeps its ID and position; only the body is replaced by a
// tombstone. Edits never allocate a new ID.
type Message struct {
	ID        uuid.UUID      `json:"id"`
	RoomID    string         `json:"room_id"`
	AuthorID  string         `json:"author_id"`
	Type      MessageType    `json:"type"`
	Body      string         `json:"body"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt int64          `json:"created_at"`
	UpdatedAt int64          `json:"updated_at,omitempty"`
	Edited    bool           `json:"edited"`
	Deleted   bool           `json:"deleted"`
	Seq       uint64         `json:"seq"`
	ClientKey string         `json:"client_key,omitempty"`
}

// Tombstone turns the message into its deleted form.
func (m *Message) Tombstone(at time.Time) {
	m.Deleted = true
	m.Body = DeletedBody
	m.Metadata = nil
	m.UpdatedAt = at.UnixMilli()
}

// Clone returns a deep enough copy for handing out of a store.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Metadata != nil {
		c.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// [POST] A community feed entry.
type Post struct {
	ID        uuid.UUID `json:"id"`
	RoomID    string    `json:"room_id"`
	AuthorID  string    `json:"author_id"`
	Title     string    `json:"title,omitempty"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt int64     `json:"created_at"`
	Seq       uint64    `json:"seq"`
	ClientKey string    `json:"client_key,omitempty"`
}

func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	c := *p
	c.Tags = append([]string(nil), p.Tags...)
	return &c
}

type Comment struct {
	ID        uuid.UUID `json:"id"`
	RoomID    string    `json:"room_id"`
	Target    TargetRef `json:"target"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	CreatedAt int64     `json:"created_at"`
	Seq       uint64    `json:"seq"`
	ClientKey string    `json:"client_key,omitempty"`
}
