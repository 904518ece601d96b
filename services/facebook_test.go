package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-inbox/models"
)

type staticTokens map[string]string

func (s staticTokens) Token(pageID string) (string, error) {
	if tok, ok := s[pageID]; ok {
		return tok, nil
	}
	return "", ErrNotFound
}

func TestGraphClient_SendTextWithReply(t *testing.T) {
	var got graphSendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/100/messages", r.URL.Path)
		assert.Equal(t, "Bearer page-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"recipient_id":"abc","message_id":"m_1"}`))
	}))
	defer srv.Close()

	g := NewGraphClient(srv.URL, staticTokens{"100": "page-token"}, NewRateLimiter(0))
	res, err := g.SendText(context.Background(), "100", "abc", "hello", "mid.q")
	require.NoError(t, err)
	assert.Equal(t, "m_1", res.MessageID)

	assert.Equal(t, "abc", got.Recipient.ID)
	assert.Equal(t, "RESPONSE", got.MessagingType)
	assert.Equal(t, "hello", got.Message.Text)
	require.NotNil(t, got.Message.ReplyTo)
	assert.Equal(t, "mid.q", got.Message.ReplyTo.MID)
}

func TestGraphClient_ErrorsAreUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"(#100) No matching user found"}}`))
	}))
	defer srv.Close()

	g := NewGraphClient(srv.URL, staticTokens{"100": "tok"}, nil)
	_, err := g.SendText(context.Background(), "100", "abc", "hello", "")
	assert.True(t, errors.Is(err, ErrUpstream))

	// Unknown page: no request is made
	_, err = g.SendText(context.Background(), "999", "abc", "hello", "")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGraphClient_UploadAttachment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/100/message_attachments", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		var message map[string]any
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("message")), &message))
		attachment := message["attachment"].(map[string]any)
		assert.Equal(t, "image", attachment["type"])

		file, header, err := r.FormFile("filedata")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "shoe.jpg", header.Filename)
		assert.Equal(t, "jpeg", string(data))

		w.Write([]byte(`{"attachment_id":"att_1"}`))
	}))
	defer srv.Close()

	g := NewGraphClient(srv.URL, staticTokens{"100": "tok"}, nil)
	id, err := g.UploadAttachment(context.Background(), "100", AttachmentKind("image/jpeg"), "shoe.jpg", []byte("jpeg"))
	require.NoError(t, err)
	assert.Equal(t, "att_1", id)
}

func TestGraphClient_ParticipantProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/100/conversations", r.URL.Path)
		assert.Equal(t, "abc", r.URL.Query().Get("user_id"))
		assert.Equal(t, "instagram", r.URL.Query().Get("platform"))
		w.Write([]byte(`{"data":[{"participants":{"data":[
			{"id":"100","name":"Tbilisi Shoes"},
			{"id":"abc","username":"nino.ig"}
		]}}]}`))
	}))
	defer srv.Close()

	g := NewGraphClient(srv.URL, staticTokens{"100": "tok"}, nil)
	info, err := g.ParticipantProfile(context.Background(), "100", "abc", models.PlatformInstagram)
	require.NoError(t, err)
	assert.Equal(t, "nino.ig", info.Name)

	_, err = g.ParticipantProfile(context.Background(), "100", "zzz", models.PlatformInstagram)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGraphClient_UserProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/abc", r.URL.Path)
		assert.Equal(t, "first_name,last_name,name,profile_pic", r.URL.Query().Get("fields"))
		w.Write([]byte(`{"id":"abc","first_name":"Nino","last_name":"Beridze","profile_pic":"https://cdn.example/p.jpg"}`))
	}))
	defer srv.Close()

	g := NewGraphClient(srv.URL, staticTokens{"100": "tok"}, nil)
	info, err := g.UserProfile(context.Background(), "100", "abc", models.PlatformFacebook)
	require.NoError(t, err)
	assert.Equal(t, "Nino Beridze", info.Name)
	assert.Equal(t, "https://cdn.example/p.jpg", info.Pic)
}

func TestAttachmentKind(t *testing.T) {
	assert.Equal(t, "image", AttachmentKind("image/png"))
	assert.Equal(t, "video", AttachmentKind("video/mp4"))
	assert.Equal(t, "audio", AttachmentKind("audio/mpeg"))
	assert.Equal(t, "file", AttachmentKind("application/pdf"))
}
