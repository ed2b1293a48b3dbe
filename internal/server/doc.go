// Package server 以 Fiber 暴露解析服务：/resolve 把 datastore:// 地址解析为本机路径，
// /files 直接返回缓存中的文件内容，/-/ 前缀下为诊断接口。本服务与 CLI 共用同一份缓存目录，
// 下载互斥完全依赖锁文件。
package server
