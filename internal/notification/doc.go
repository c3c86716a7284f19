// Package notification は落とし物アプリの通知サービスの内部実装を提供する。
//
// 投稿・クレームのイベントを受信し、対象ユーザーの登録デバイスへ
// プッシュ通知をファンアウト配信する。プッシュの成否に関わらず、
// 対象ユーザー1人につき1件のアプリ内通知レコードを永続化する。
// 通知の一覧取得や既読管理も行う。
package notification
