package expo

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestIsDispatchable はトークン形式の判定を検証する。
func TestIsDispatchable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{name: "Expo形式のトークンは送信可能", token: "ExponentPushToken[abc123]", want: true},
		{name: "FCM形式のトークンは送信不可", token: "fcm-token-xyz", want: false},
		{name: "空文字列は送信不可", token: "", want: false},
		{name: "プレフィックスのみのトークンは送信可能", token: "ExponentPushToken", want: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := IsDispatchable(tt.token); got != tt.want {
				t.Errorf("IsDispatchable(%q) = %v, want %v", tt.token, got, tt.want)
			}
		})
	}
}

// TestSend はSend関数のレスポンス分類を検証する。
func TestSend(t *testing.T) {
	t.Parallel()

	t.Run("プロバイダが受理した場合nilを返すこと", func(t *testing.T) {
		t.Parallel()

		var received map[string]any
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, &received)

			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"status":"ok","id":"receipt-1"}`)
		}))
		defer ts.Close()

		client := New(ts.URL)
		err := client.Send(context.Background(), "ExponentPushToken[abc]", "タイトル", "本文")
		if err != nil {
			t.Fatalf("Send()でエラーが発生: %v", err)
		}

		if received["to"] != "ExponentPushToken[abc]" {
			t.Errorf("to = %v, want %v", received["to"], "ExponentPushToken[abc]")
		}
		if received["sound"] != "default" {
			t.Errorf("sound = %v, want %v", received["sound"], "default")
		}
	})

	t.Run("レスポンスのstatusがerrorの場合RejectedErrorを返すこと", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"status":"error","message":"DeviceNotRegistered"}`)
		}))
		defer ts.Close()

		client := New(ts.URL)
		err := client.Send(context.Background(), "ExponentPushToken[dead]", "タイトル", "本文")

		var rejected *RejectedError
		if !errors.As(err, &rejected) {
			t.Fatalf("RejectedErrorを期待したが別のエラーが返却: %v", err)
		}
		if rejected.Token != "ExponentPushToken[dead]" {
			t.Errorf("Token = %q, want %q", rejected.Token, "ExponentPushToken[dead]")
		}
		if rejected.Message != "DeviceNotRegistered" {
			t.Errorf("Message = %q, want %q", rejected.Message, "DeviceNotRegistered")
		}
	})

	t.Run("HTTPステータスがエラーでもボディのstatusがerrorなら拒否と判定されること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"status":"error","message":"InvalidCredentials"}`)
		}))
		defer ts.Close()

		client := New(ts.URL)
		err := client.Send(context.Background(), "ExponentPushToken[x]", "タイトル", "本文")

		var rejected *RejectedError
		if !errors.As(err, &rejected) {
			t.Fatalf("RejectedErrorを期待したが別のエラーが返却: %v", err)
		}
	})

	t.Run("接続エラーの場合リトライ可能なエラーを返すこと", func(t *testing.T) {
		t.Parallel()

		// 接続先のないURLに送信する
		ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		ts.Close()

		client := New(ts.URL)
		err := client.Send(context.Background(), "ExponentPushToken[x]", "タイトル", "本文")
		if err == nil {
			t.Fatal("Send()がエラーを返さなかった")
		}

		var rejected *RejectedError
		if errors.As(err, &rejected) {
			t.Errorf("ネットワークエラーがRejectedErrorに分類された: %v", err)
		}
	})

	t.Run("ボディがJSONでない場合リトライ可能なエラーを返すこと", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "not json")
		}))
		defer ts.Close()

		client := New(ts.URL)
		err := client.Send(context.Background(), "ExponentPushToken[x]", "タイトル", "本文")
		if err == nil {
			t.Fatal("Send()がエラーを返さなかった")
		}

		var rejected *RejectedError
		if errors.As(err, &rejected) {
			t.Errorf("デシリアライズ失敗がRejectedErrorに分類された: %v", err)
		}
	})

	t.Run("endpointが空の場合デフォルトエンドポイントが設定されること", func(t *testing.T) {
		t.Parallel()

		client := New("")
		if client.endpoint != DefaultEndpoint {
			t.Errorf("endpoint = %q, want %q", client.endpoint, DefaultEndpoint)
		}
	})
}
