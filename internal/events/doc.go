// Package events 提供网格变更事件的发布与订阅。
//
// Hub 在进程内扇出事件，查看器通过 SSE 订阅；Redis 与 RabbitMQ 驱动把同样的
// 事件转发给外部系统。发布失败只记录日志，不影响请求本身。
package events
