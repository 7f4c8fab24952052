// Package web 内嵌浏览器查看器的静态资源。
package web

import (
	"embed"
	"io/fs"
)

//go:embed static
var assets embed.FS

// FS 返回以查看器根目录为根的文件系统。
func FS() fs.FS {
	sub, err := fs.Sub(assets, "static")
	if err != nil {
		panic(err)
	}
	return sub
}
