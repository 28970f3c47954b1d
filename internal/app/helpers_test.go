package app_test

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/MrWong99/parley/internal/permission"
)

func permissionsFor(roles map[string][]string) permission.Config {
	return permission.Config{Roles: roles}
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func openConversation(t *testing.T, base, npcID string) string {
	t.Helper()
	resp := post(t, base+"/v1/conversations", `{"npc_id":"`+npcID+`"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("open: status %d", resp.StatusCode)
	}
	var body struct {
		Session struct {
			ID string `json:"id"`
		} `json:"session"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	return body.Session.ID
}
