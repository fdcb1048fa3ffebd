package httptransport

import (
	"github.com/gin-gonic/gin"

	"testinbox/backend/internal/domain"
	"testinbox/backend/internal/service"
)

// InboxHandler 收件箱接口
type InboxHandler struct {
	inboxes *service.InboxService
}

// NewInboxHandler 创建收件箱处理器
func NewInboxHandler(inboxes *service.InboxService) *InboxHandler {
	return &InboxHandler{inboxes: inboxes}
}

type inboxListResponse struct {
	Items []domain.Inbox `json:"items"`
	Count int            `json:"count"`
}

// List godoc
// @Summary 列出收件箱
// @Description 按创建顺序返回全部收件箱
// @Tags Inboxes
// @Produce json
// @Success 200 {object} Response{data=inboxListResponse}
// @Router /api/v1/inboxes [get]
func (h *InboxHandler) List(c *gin.Context) {
	inboxes := h.inboxes.List()
	Success(c, inboxListResponse{
		Items: inboxes,
		Count: len(inboxes),
	})
}

// Create godoc
// @Summary 创建收件箱
// @Description 在配置的域名下生成随机地址
// @Tags Inboxes
// @Produce json
// @Success 201 {object} Response{data=domain.Inbox}
// @Router /api/v1/inboxes [post]
func (h *InboxHandler) Create(c *gin.Context) {
	inbox, err := h.inboxes.Create()
	if err != nil {
		respondError(c, err, MsgInboxCreateFailed)
		return
	}
	Created(c, inbox)
}

// Get 获取单个收件箱
func (h *InboxHandler) Get(c *gin.Context) {
	inbox, err := h.inboxes.Get(c.Param("id"))
	if err != nil {
		respondError(c, err, MsgInboxNotFound)
		return
	}
	Success(c, inbox)
}

// Delete godoc
// @Summary 删除收件箱
// @Description 删除收件箱及其全部邮件，重复删除也返回成功
// @Tags Inboxes
// @Success 204
// @Router /api/v1/inboxes/{id} [delete]
func (h *InboxHandler) Delete(c *gin.Context) {
	if _, err := h.inboxes.Delete(c.Param("id")); err != nil {
		respondError(c, err, MsgInboxDeleteFailed)
		return
	}
	NoContent(c)
}
