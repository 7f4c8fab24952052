// Package images 管理生成图片的句柄：生成、缩放、存储以及一次性投放占用。
package images
