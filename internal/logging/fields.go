package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/any-hub/datastore/internal/locator"
)

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// LocatorFields 描述一次解析涉及的对象，供下载与安装日志复用。
func LocatorFields(store string, loc locator.Locator) logrus.Fields {
	return logrus.Fields{
		"store":      store,
		"group":      loc.Group,
		"name":       loc.Name,
		"version":    loc.Version,
		"kind":       loc.Kind(),
		"remote_key": loc.RemoteKey(),
	}
}

// RequestFields 提供 HTTP 请求日志的公共字段。
func RequestFields(requestID, method, path string, status int) logrus.Fields {
	return logrus.Fields{
		"request_id": requestID,
		"method":     method,
		"path":       path,
		"status":     status,
	}
}
