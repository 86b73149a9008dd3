package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/HildaM/logs/slog"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/hildam/adaptive-rag-go/biz/handler"
	"github.com/hildam/adaptive-rag-go/biz/service"
	"github.com/hildam/adaptive-rag-go/entity/conf"
	"github.com/hildam/adaptive-rag-go/entity/consts"
	"github.com/hildam/adaptive-rag-go/entity/model"
	"github.com/hildam/adaptive-rag-go/repo/callback"
	"github.com/hildam/adaptive-rag-go/repo/template"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// newApp 命令行入口
func newApp() *cli.App {
	return &cli.App{
		Name:  "adaptive-rag",
		Usage: "Adaptive retrieval augmented question answering",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the config file",
				Value:   conf.DefaultConfigPath,
			},
			&cli.StringFlag{
				Name:  "prompts",
				Usage: "Directory with prompt templates overriding the built-in ones",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			{
				Name:      "ask",
				Usage:     "Ask a question in the console and print every step",
				ArgsUsage: "[question]",
				Action:    askCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "agent",
						Aliases: []string{"a"},
						Usage:   "Agent type (simple, complex)",
						Value:   consts.AgentComplex,
					},
					&cli.BoolFlag{
						Name:  "quiet",
						Usage: "Only print the final answer",
					},
				},
			},
			{
				Name:   "serve",
				Usage:  "Start the HTTP server",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address, overrides server.addr",
					},
				},
			},
		},
	}
}

// setup 初始化配置与日志
func setup(c *cli.Context) error {
	if dir := c.String("prompts"); dir != "" {
		template.SetPromptDir(dir)
	}
	return conf.Init(c.String("config"))
}

// askCommand 运行控制台问答
func askCommand(c *cli.Context) error {
	ctx := context.Background()

	kind := c.String("agent")
	if kind != consts.AgentSimple && kind != consts.AgentComplex {
		return fmt.Errorf("unknown agent type %q", kind)
	}

	// 读取用户终端输入
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		reader := bufio.NewReader(os.Stdin)
		fmt.Print("请输入你的问题： ")
		question, _ = reader.ReadString('\n')
		question = strings.TrimSpace(question)
	}
	if question == "" {
		return fmt.Errorf("question is required")
	}

	svc, err := service.NewFromConfig(ctx, conf.GetCfg())
	if err != nil {
		return err
	}
	defer svc.Close()

	cfg, err := model.MergeAgentConfig(conf.DefaultAgentConfig(), nil)
	if err != nil {
		return err
	}
	a, release, err := svc.NewAgent(ctx, kind, cfg)
	if err != nil {
		return err
	}
	defer release()

	// 流式输出
	outChan := make(chan *model.StepResp)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for out := range outChan {
			printStep(out, c.Bool("quiet"))
		}
	}()

	pusher := &callback.StepPusher{RunID: uuid.New().String(), Agent: kind, Out: outChan}
	_, err = handler.StreamRun(ctx, a, question, pusher)
	close(outChan)
	<-done
	if err != nil {
		slog.Error("askCommand failed, err: %v", err)
	}
	return err
}

// printStep 打印单步事件
func printStep(out *model.StepResp, quiet bool) {
	switch {
	case out.Error != "":
		fmt.Printf("\n[error] %s\n", out.Error)
	case out.Answer != "":
		fmt.Printf("\n==================\n%s\n", out.Answer)
	case !quiet:
		update, _ := json.Marshal(out.Update)
		fmt.Printf("[%d] %s %s\n", out.Step, out.Node, update)
	}
}

// serveCommand 启动 HTTP 服务
func serveCommand(c *cli.Context) error {
	ctx := context.Background()

	svc, err := service.NewFromConfig(ctx, conf.GetCfg())
	if err != nil {
		return err
	}
	defer svc.Close()

	addr := c.String("addr")
	if addr == "" {
		addr = conf.GetCfg().Server.Addr
	}

	h := server.Default(server.WithHostPorts(addr))
	handler.NewHandler(svc, conf.DefaultAgentConfig).Register(h)
	slog.Info("serveCommand info, listen on %s", addr)
	h.Spin()
	return nil
}
