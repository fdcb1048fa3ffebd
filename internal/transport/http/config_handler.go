package httptransport

import (
	"github.com/gin-gonic/gin"

	"testinbox/backend/internal/config"
)

// ConfigHandler 公开配置接口
type ConfigHandler struct {
	cfg *config.Config
}

// NewConfigHandler 创建配置处理器
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

type publicConfigResponse struct {
	Domain            string `json:"domain"`
	LocalPartPrefix   string `json:"localPartPrefix"`
	InboxTTLSeconds   int64  `json:"inboxTtlSeconds"` // 0 表示不过期
	EnrichmentEnabled bool   `json:"enrichmentEnabled"`
}

// GetConfig godoc
// @Summary 获取公开配置
// @Description 返回收件域名等客户端需要的配置
// @Tags Public
// @Produce json
// @Success 200 {object} Response{data=publicConfigResponse}
// @Router /api/v1/config [get]
func (h *ConfigHandler) GetConfig(c *gin.Context) {
	Success(c, publicConfigResponse{
		Domain:            h.cfg.Mailbox.Domain,
		LocalPartPrefix:   h.cfg.Mailbox.LocalPartPrefix,
		InboxTTLSeconds:   int64(h.cfg.Mailbox.TTL.Seconds()),
		EnrichmentEnabled: h.cfg.Enrichment.Enabled(),
	})
}
