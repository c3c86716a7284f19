// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// JWT認証トークンの検証、パニックリカバリ、モバイルクライアント向けの
// CORS設定など、通知サービスとコラボレータで共通して使用する
// ミドルウェアを含む。
package middleware
