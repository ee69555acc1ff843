// Package cli 实现 creditctl 运维命令，经 gRPC 调用信用分服务并以 JSON 输出响应。
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrUsage 参数不合法，调用方应打印 Usage
var ErrUsage = errors.New("usage error")

// Usage 命令说明
const Usage = `usage: creditctl [-config path] [-target addr] <command> [args]

commands:
  score   <uid>                                        查询当前信用分
  history [-kind credit|debit] [-page n] [-page-size n] <user_id>
  apply   -uid <uid> -delta <n> -kind credit|debit [-reason text] [-key idempotency-key]
  bonus   <uid>                                        发放一次性奖励分`

// ScoreClient 信用分服务客户端
type ScoreClient interface {
	ApplyScoreChange(ctx context.Context, req map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error)
	GetCurrentScore(ctx context.Context, req map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error)
	GetScoreHistory(ctx context.Context, req map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error)
	GrantOneTimeBonus(ctx context.Context, req map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error)
}

var jsonOut = protojson.MarshalOptions{Multiline: true, Indent: "  "}

// Run 执行 args 描述的子命令
func Run(ctx context.Context, client ScoreClient, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing command", ErrUsage)
	}

	var (
		resp *structpb.Struct
		err  error
	)
	switch cmd, rest := args[0], args[1:]; cmd {
	case "score":
		uid, perr := single(cmd, rest)
		if perr != nil {
			return perr
		}
		resp, err = client.GetCurrentScore(ctx, map[string]any{"uid": uid})
	case "bonus":
		uid, perr := single(cmd, rest)
		if perr != nil {
			return perr
		}
		resp, err = client.GrantOneTimeBonus(ctx, map[string]any{"uid": uid})
	case "history":
		req, perr := historyRequest(rest)
		if perr != nil {
			return perr
		}
		resp, err = client.GetScoreHistory(ctx, req)
	case "apply":
		req, perr := applyRequest(rest)
		if perr != nil {
			return perr
		}
		resp, err = client.ApplyScoreChange(ctx, req)
	default:
		return fmt.Errorf("%w: unknown command %q", ErrUsage, cmd)
	}
	if err != nil {
		return err
	}

	b, err := jsonOut.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	_, err = fmt.Fprintln(out, string(b))
	return err
}

func single(cmd string, args []string) (string, error) {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return "", fmt.Errorf("%w: %s takes exactly one uid", ErrUsage, cmd)
	}
	return args[0], nil
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func historyRequest(args []string) (map[string]any, error) {
	fs := newFlagSet("history")
	kind := fs.String("kind", "", "")
	page := fs.Int("page", 1, "")
	pageSize := fs.Int("page-size", 20, "")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if fs.NArg() != 1 {
		return nil, fmt.Errorf("%w: history takes exactly one user_id", ErrUsage)
	}

	req := map[string]any{"user_id": fs.Arg(0), "page": *page, "page_size": *pageSize}
	if *kind != "" {
		req["kind"] = *kind
	}
	return req, nil
}

// applyRequest 解析 apply 参数；delta 以字符串透传，由服务端做整数校验
func applyRequest(args []string) (map[string]any, error) {
	fs := newFlagSet("apply")
	uid := fs.String("uid", "", "")
	delta := fs.String("delta", "", "")
	kind := fs.String("kind", "", "")
	reason := fs.String("reason", "", "")
	key := fs.String("key", "", "")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if *uid == "" || *delta == "" || *kind == "" || fs.NArg() != 0 {
		return nil, fmt.Errorf("%w: apply requires -uid, -delta and -kind", ErrUsage)
	}

	req := map[string]any{"uid": *uid, "delta": *delta, "kind": *kind}
	if *reason != "" {
		req["reason"] = *reason
	}
	if *key != "" {
		req["idempotency_key"] = *key
	}
	return req, nil
}
