package agent

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// ToolRegistry 维护名字到工具实现的映射，是工具执行节点的查找入口
type ToolRegistry struct {
	tools map[string]tool.InvokableTool
	order []string
}

// NewToolRegistry 构建注册表；重名工具后注册的覆盖先注册的
func NewToolRegistry(ctx context.Context, tools ...tool.InvokableTool) (*ToolRegistry, error) {
	r := &ToolRegistry{tools: make(map[string]tool.InvokableTool, len(tools))}
	for _, t := range tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get tool info: %w", err)
		}
		if _, exists := r.tools[info.Name]; !exists {
			r.order = append(r.order, info.Name)
		}
		r.tools[info.Name] = t
	}
	return r, nil
}

// Lookup 按名字查找工具
func (r *ToolRegistry) Lookup(name string) (tool.InvokableTool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Execute 执行一次工具调用
// 未注册的名字返回 ErrToolNotFound，执行失败包装为 ErrToolExecution，
// 由调用方决定如何合成错误结果消息
func (r *ToolRegistry) Execute(ctx context.Context, call schema.ToolCall) (string, error) {
	t, ok := r.Lookup(call.Function.Name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, call.Function.Name)
	}

	args := call.Function.Arguments
	if args == "" || args == "{" {
		args = "{}"
	}

	out, err := t.InvokableRun(ctx, args)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrToolExecution, call.Function.Name, err)
	}
	return out, nil
}

// Infos 按注册顺序返回所有工具的元信息，供模型绑定
func (r *ToolRegistry) Infos(ctx context.Context) ([]*schema.ToolInfo, error) {
	infos := make([]*schema.ToolInfo, 0, len(r.order))
	for _, name := range r.order {
		info, err := r.tools[name].Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get tool info: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}
