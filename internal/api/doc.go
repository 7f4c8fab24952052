// Package api 提供网格市场的 HTTP 接口：网格读取、付费涂色与广告投放、
// 图片生成、空位搜索、SSE 事件流以及内嵌的浏览器查看器。
package api
