// Package ambushcli 命令行埋伏分析：读取本地 JSON 或在线拉取行情，输出综合结果
package ambushcli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"fund-burying-backend/internal/client"
	"fund-burying-backend/internal/config"
	"fund-burying-backend/internal/model"
	"fund-burying-backend/internal/service"
	"fund-burying-backend/internal/store"
	"fund-burying-backend/internal/trace"
)

type Options struct {
	Code        string
	InputPath   string
	MetaPath    string
	ContextPath string
	Only        string
	Disable     string
	Weights     string
	ConfigPath  string
	OutputPath  string
	Parallel    bool
	Days        int
	DBPath      string
	SidecarURL  string
}

const usage = `用法: ambush -code 600519 [-input series.json] [-meta meta.json] [-context ctx.json]
       [-only a,b] [-disable c] [-weights fund_flow=0.4,main_force=0.3] [-config modules.json]
       [-output out.json] [-parallel] [-days 120] [-db data/ambush.db] [-sidecar http://127.0.0.1:5000]`

// Execute 结果写到 stdout 或 -output 指定的文件
func Execute(args []string) error {
	return run(context.Background(), args, os.Stdout)
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("ambush", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var opts Options
	fs.StringVar(&opts.Code, "code", "", "")
	fs.StringVar(&opts.InputPath, "input", "", "")
	fs.StringVar(&opts.MetaPath, "meta", "", "")
	fs.StringVar(&opts.ContextPath, "context", "", "")
	fs.StringVar(&opts.Only, "only", "", "")
	fs.StringVar(&opts.Disable, "disable", "", "")
	fs.StringVar(&opts.Weights, "weights", "", "")
	fs.StringVar(&opts.ConfigPath, "config", "", "")
	fs.StringVar(&opts.OutputPath, "output", "", "")
	fs.BoolVar(&opts.Parallel, "parallel", false, "")
	fs.IntVar(&opts.Days, "days", 0, "")
	fs.StringVar(&opts.DBPath, "db", "", "")
	fs.StringVar(&opts.SidecarURL, "sidecar", "", "")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%v\n%s", err, usage)
	}
	if opts.Code == "" && opts.InputPath == "" {
		return fmt.Errorf("需要 -code 或 -input\n%s", usage)
	}

	settings, err := config.LoadModuleSettings(opts.ConfigPath)
	if err != nil {
		return err
	}
	settings.Parallel = settings.Parallel || opts.Parallel

	req := service.AnalyzeRequest{
		Code:     opts.Code,
		Days:     opts.Days,
		Only:     splitList(opts.Only),
		Disabled: splitList(opts.Disable),
		NoSave:   opts.DBPath == "",
		NoCache:  true,
	}
	if req.Weights, err = parseWeights(opts.Weights); err != nil {
		return err
	}
	if opts.InputPath != "" {
		if req.Series, err = readSeries(opts.InputPath); err != nil {
			return err
		}
	}
	if opts.MetaPath != "" {
		req.Meta = &model.StockMeta{}
		if err := readJSON(opts.MetaPath, req.Meta); err != nil {
			return err
		}
	}
	if opts.ContextPath != "" {
		req.Context = &model.MarketContext{}
		if err := readJSON(opts.ContextPath, req.Context); err != nil {
			return err
		}
	}

	svcOpts := service.Options{Settings: settings, Sidecar: client.NewSidecar(opts.SidecarURL)}
	if opts.DBPath != "" {
		st, err := store.Open(opts.DBPath)
		if err != nil {
			return err
		}
		defer st.Close()
		svcOpts.Store = st
	}
	svc, err := service.New(svcOpts)
	if err != nil {
		return err
	}

	ctx = trace.WithTraceID(ctx, "")
	resp, err := svc.AnalyzeStock(ctx, req)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(resp.Result, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化结果失败: %w", err)
	}
	out = append(out, '\n')
	if opts.OutputPath == "" {
		_, err = stdout.Write(out)
		return err
	}
	if err := os.WriteFile(opts.OutputPath, out, 0o644); err != nil {
		return fmt.Errorf("写入结果失败: %w", err)
	}
	trace.Info(ctx, "CLI", "%s 综合得分 %.1f（%s），结果已写入 %s", resp.Result.StockCode, resp.Result.Score, resp.Level, opts.OutputPath)
	return nil
}

// readSeries 接受记录数组，或 {"series": [...]} 包装
func readSeries(path string) (model.StockSeries, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取日线文件失败: %w", err)
	}
	var series model.StockSeries
	if err := json.Unmarshal(data, &series); err == nil {
		return series, nil
	}
	var wrapped struct {
		Series model.StockSeries `json:"series"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("解析日线文件失败: %w", err)
	}
	return wrapped.Series, nil
}

func readJSON(path string, dest any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("读取 %s 失败: %w", path, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("解析 %s 失败: %w", path, err)
	}
	return nil
}

// parseWeights fund_flow=0.4,main_force=0.3
func parseWeights(s string) (map[string]float64, error) {
	items := splitList(s)
	if len(items) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(items))
	for _, item := range items {
		name, value, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("权重格式错误 %q，应为 模块=权重", item)
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("权重 %q 不是数字", value)
		}
		out[strings.TrimSpace(name)] = w
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
