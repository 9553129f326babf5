package api

import (
	"github.com/gin-gonic/gin"
	"github.com/mautops/formflow-gin/internal/service"
	"github.com/mautops/formflow-gin/internal/utils"
)

// TemplateController 模板控制器,模板在本服务中只读
type TemplateController struct {
	templateService service.TemplateService
}

// NewTemplateController 创建模板控制器
func NewTemplateController(templateService service.TemplateService) *TemplateController {
	return &TemplateController{
		templateService: templateService,
	}
}

// List 列出可用模板
func (tc *TemplateController) List(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	templates, err := tc.templateService.List(c.Request.Context(), p)
	if err != nil {
		HandleFormError(c, err)
		return
	}
	Success(c, templates)
}

// Get 获取模板
func (tc *TemplateController) Get(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if err := utils.ValidateID(id); err != nil {
		HandleFormError(c, err)
		return
	}

	template, err := tc.templateService.Get(c.Request.Context(), p, id)
	if err != nil {
		HandleFormError(c, err)
		return
	}
	Success(c, template)
}
