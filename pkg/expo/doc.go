// Package expo はExpoプッシュ通知APIへの送信クライアントを提供する。
//
// 1回のSend呼び出しは1回のプッシュ送信試行に対応する。リトライや
// バックオフは呼び出し側（通知サービスのファンアウトエンジン）が管理する。
// プロバイダのレスポンスを「成功」「プロバイダによる拒否」「ネットワーク
// エラー」に分類して返す。
package expo
