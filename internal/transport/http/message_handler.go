package httptransport

import (
	"strings"

	"github.com/gin-gonic/gin"

	"testinbox/backend/internal/domain"
	"testinbox/backend/internal/service"
)

// MessageHandler 邮件查询与分析接口
type MessageHandler struct {
	messages *service.MessageService
}

// NewMessageHandler 创建邮件处理器
func NewMessageHandler(messages *service.MessageService) *MessageHandler {
	return &MessageHandler{messages: messages}
}

type messageListResponse struct {
	Address string           `json:"address"`
	Items   []domain.Message `json:"items"`
	Count   int              `json:"count"`
}

type enrichmentRequest struct {
	OTP     *string `json:"otp"`
	Link    *string `json:"link"`
	Summary *string `json:"summary"`
	IsSpam  *bool   `json:"isSpam"`
}

// ListByAddress godoc
// @Summary 查询邮件
// @Description 返回发往该地址的邮件，最新的在前；未知地址返回空列表
// @Tags Messages
// @Produce json
// @Param address path string true "收件地址"
// @Success 200 {object} Response{data=messageListResponse}
// @Router /api/v1/emails/{address} [get]
func (h *MessageHandler) ListByAddress(c *gin.Context) {
	address := strings.TrimSpace(c.Param("address"))
	if address == "" {
		BadRequest(c, MsgAddressRequired)
		return
	}

	messages := h.messages.ListFor(address)
	Success(c, messageListResponse{
		Address: address,
		Items:   messages,
		Count:   len(messages),
	})
}

// Get 获取单封邮件
func (h *MessageHandler) Get(c *gin.Context) {
	message, err := h.messages.Get(c.Param("id"))
	if err != nil {
		respondError(c, err, MsgMessageNotFound)
		return
	}
	Success(c, message)
}

// ApplyEnrichment godoc
// @Summary 写入分析结果
// @Description 合并 OTP、链接、摘要与垃圾邮件标记；每封邮件只能写入一次
// @Tags Messages
// @Accept json
// @Produce json
// @Param id path string true "邮件ID"
// @Success 200 {object} Response{data=domain.Message}
// @Failure 409 {object} Response
// @Router /api/v1/messages/{id}/enrichment [put]
func (h *MessageHandler) ApplyEnrichment(c *gin.Context) {
	var req enrichmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}

	message, err := h.messages.ApplyEnrichment(c.Param("id"), domain.Enrichment{
		OTP:     req.OTP,
		Link:    req.Link,
		Summary: req.Summary,
		IsSpam:  req.IsSpam,
	})
	if err != nil {
		respondError(c, err, MsgEnrichmentFailed)
		return
	}
	Success(c, message)
}

// Analyze 调用分析服务并写入结果
func (h *MessageHandler) Analyze(c *gin.Context) {
	message, err := h.messages.Analyze(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, MsgAnalyzeFailed)
		return
	}
	Success(c, message)
}
