// cmd/storyctl/main.go
// storyctl 是故事图的命令行工具：校验、查看与试运行
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Corvane/StoryWeaver/internal/models"
	"github.com/Corvane/StoryWeaver/internal/services"
	"github.com/Corvane/StoryWeaver/internal/utils"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "storyctl",
		Short: "故事图命令行工具",
		Long:  "storyctl 对导出的故事图JSON做离线校验、结构查看与路径试运行。",
	}
	root.AddCommand(newValidateCmd())
	root.AddCommand(newInspectCmd())
	root.AddCommand(newPlayCmd())
	return root
}

// loadGraph 读取文件并按保存协议规范化为故事图
func loadGraph(path string) (*models.StoryGraph, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("读取文件失败: %w", err)
	}

	var req models.SaveStoryMapRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, 0, fmt.Errorf("解析故事图失败: %w", err)
	}

	idGen := utils.NewIDGenerator()
	graphSvc := services.NewGraphService(idGen)
	normalizer := services.NewNormalizer(idGen, graphSvc)
	normalized := normalizer.Normalize(&req)

	return &models.StoryGraph{
		StartNodeID: normalized.StartNodeID,
		Nodes:       normalized.Nodes,
		Edges:       normalized.Edges,
		Variables:   normalized.Variables,
	}, normalized.Healed, nil
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <graph.json>",
		Short: "校验故事图结构",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			graph, healed, err := loadGraph(args[0])
			if err != nil {
				return err
			}

			result := services.NewGraphService(nil).Validate(graph)
			if healed > 0 {
				fmt.Printf("规范化修复了 %d 个条目\n", healed)
			}
			for _, e := range result.Errors {
				fmt.Printf("错误: %s\n", e)
			}
			for _, w := range result.Warnings {
				fmt.Printf("警告: %s\n", w)
			}
			if !result.IsValid {
				return fmt.Errorf("故事图校验未通过: %d 个错误", len(result.Errors))
			}
			fmt.Println("故事图校验通过")
			return nil
		},
	}
}

func newInspectCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect <graph.json>",
		Short: "查看故事图结构摘要",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			graph, healed, err := loadGraph(args[0])
			if err != nil {
				return err
			}

			if asJSON {
				out, err := json.MarshalIndent(graph, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}

			fmt.Printf("起始节点: %s\n", graph.StartNodeID)
			fmt.Printf("节点数:   %d\n", len(graph.Nodes))
			fmt.Printf("连接数:   %d\n", len(graph.Edges))
			fmt.Printf("变量数:   %d\n", len(graph.Variables))
			if healed > 0 {
				fmt.Printf("修复数:   %d\n", healed)
			}

			typeCounts := make(map[models.NodeType]int)
			for _, node := range graph.Nodes {
				typeCounts[node.NodeType]++
			}
			fmt.Println("节点类型分布:")
			for nodeType, count := range typeCounts {
				fmt.Printf("  %-18s %d\n", nodeType, count)
			}

			if len(graph.Variables) > 0 {
				fmt.Println("故事变量:")
				for _, v := range graph.Variables {
					fmt.Printf("  %-24s %-8s 初始值=%v\n", v.Name, v.DataType, v.InitialValue)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "输出完整的规范化JSON")
	return cmd
}

func newPlayCmd() *cobra.Command {
	var maxSteps int
	cmd := &cobra.Command{
		Use:   "play <graph.json>",
		Short: "沿首条出边试运行故事图",
		Long:  "从起始节点出发沿每个节点的首条出边遍历，打印途经的节点与选择点，并报告不可达的节点。",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			graph, _, err := loadGraph(args[0])
			if err != nil {
				return err
			}

			outgoing := make(map[string][]models.Edge)
			for _, edge := range graph.Edges {
				outgoing[edge.SourceNodeID] = append(outgoing[edge.SourceNodeID], edge)
			}

			visited := make(map[string]bool)
			current := graph.StartNodeID
			step := 0
			for current != "" && !visited[current] && step < maxSteps {
				node := graph.FindNode(current)
				if node == nil {
					fmt.Printf("%3d. [断链] 连接指向不存在的节点 %s\n", step+1, current)
					break
				}
				visited[current] = true
				step++

				label := node.Title
				if label == "" {
					label = node.NodeID
				}
				fmt.Printf("%3d. [%s] %s", step, node.NodeType, label)
				if node.SceneID != "" {
					fmt.Printf("  场景=%s", node.SceneID)
				}
				if len(node.Choices) > 0 {
					fmt.Printf("  选项=%d", len(node.Choices))
				}
				fmt.Println()

				edges := outgoing[current]
				if len(edges) == 0 {
					break
				}
				current = edges[0].TargetNodeID
			}

			unreachable := 0
			for _, node := range graph.Nodes {
				if !visited[node.NodeID] {
					unreachable++
				}
			}
			if unreachable > 0 {
				fmt.Printf("提示: %d 个节点在首条出边路径上不可达（分支与选择的目标不计入遍历）\n", unreachable)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxSteps, "max-steps", 200, "遍历的最大步数")
	return cmd
}
