// Package cache 把版本化的远端对象解析为本地路径。磁盘布局为：
//
//	<root>/<group>/<name>-v<N>.<ext>       # 文件
//	<root>/<group>/<name>-d<N>/            # 目录（由 zip 解压得到）
//	<root>/<group>/<cacheKey>.lock         # 下载进行中的锁文件
//	<base>/tmp/ai2-datastore-*             # 同一文件系统上的临时区
//
// 同一对象只会被一个进程下载与安装；其它进程等待锁释放后直接复用缓存。
// 缓存条目一旦出现在规范路径上即完整可用，之后永不修改。
package cache
