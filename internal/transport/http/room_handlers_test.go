package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirecode-server/internal/proto"
)

func getJSON(t *testing.T, env *testEnv, path string, v any) int {
	t.Helper()

	resp, err := env.ts.Client().Get(env.ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestGetRoomNotFound(t *testing.T) {
	env := startTestServer(t, "", nil)

	for _, path := range []string{"/api/rooms/missing", "/rooms/missing"} {
		var body ErrorResponse
		status := getJSON(t, env, path, &body)
		assert.Equal(t, http.StatusNotFound, status, path)
		assert.Equal(t, "Room not found", body.Error, path)
	}
}

func TestGetRoomPersisted(t *testing.T) {
	env := startTestServer(t, "", nil)
	ctx := context.Background()

	_, err := env.registry.GetOrCreate(ctx, "stored")
	require.NoError(t, err)
	require.NoError(t, env.registry.UpdateDocument(ctx, "stored", "print(1)", "python"))

	var room RoomResponse
	status := getJSON(t, env, "/api/rooms/stored", &room)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "stored", room.RoomID)
	assert.Equal(t, "print(1)", room.Code)
	assert.Equal(t, "python", room.Language)
	assert.NotEmpty(t, room.CreatedAt)
	assert.Empty(t, room.Users)
}

func TestGetRoomReportsLiveBuffer(t *testing.T) {
	env := startTestServer(t, "", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(t, ctx)
	send(t, ctx, conn, proto.TypeJoinRoom, proto.JoinData{RoomID: "live", Name: "alice"})
	readUntil(t, ctx, conn, proto.TypeLoadCode)

	send(t, ctx, conn, proto.TypeCodeChange, proto.CodeData{Code: "let x = 1"})
	send(t, ctx, conn, proto.TypeResync, nil)
	readUntil(t, ctx, conn, proto.TypeLoadCode)

	var room RoomResponse
	status := getJSON(t, env, "/rooms/live", &room)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "let x = 1", room.Code)
	require.Len(t, room.Users, 1)
	assert.Equal(t, "alice", room.Users[0].Name)
}

func TestListMessages(t *testing.T) {
	env := startTestServer(t, "", nil)
	ctx := context.Background()

	for i := range 3 {
		_, err := env.chat.Append(ctx, "talk", fmt.Sprintf("m%d", i), "alice", "c1")
		require.NoError(t, err)
	}

	var messages []proto.ChatMessage
	status := getJSON(t, env, "/api/rooms/talk/messages?limit=2", &messages)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, messages, 2)
	assert.Equal(t, "m1", messages[0].Text)
	assert.Equal(t, "m2", messages[1].Text)
	assert.Equal(t, "alice", messages[1].Meta.User)

	messages = nil
	status = getJSON(t, env, "/api/rooms/empty/messages", &messages)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, messages)

	var body ErrorResponse
	status = getJSON(t, env, "/api/rooms/talk/messages?limit=abc", &body)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestDownloadRoom(t *testing.T) {
	env := startTestServer(t, "", nil)
	ctx := context.Background()

	_, err := env.registry.GetOrCreate(ctx, "dl")
	require.NoError(t, err)
	require.NoError(t, env.registry.UpdateDocument(ctx, "dl", "print(1)\n", "python"))

	resp, err := env.ts.Client().Get(env.ts.URL + "/api/rooms/dl/download")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename="dl.py"`, resp.Header.Get("Content-Disposition"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "print(1)\n", string(body))

	missing, err := env.ts.Client().Get(env.ts.URL + "/api/rooms/nope/download")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestDownloadName(t *testing.T) {
	assert.Equal(t, "r.js", downloadName("r", "javascript"))
	assert.Equal(t, "r.cpp", downloadName("r", "cpp"))
	assert.Equal(t, "r.txt", downloadName("r", "cobol"))
}
