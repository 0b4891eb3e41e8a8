package sqlite

import "github.com/satriahrh/voicectl/server/domain/entities"

// DefaultSummaries are the summaries a fresh database starts with.
func DefaultSummaries() []*entities.MeetingSummary {
	return []*entities.MeetingSummary{
		{
			MeetingID:   "001",
			Theme:       "ollo机器人产品需求评审会",
			MeetingTime: "2026-01-10 14:00",
			Summary:     "本次会议主要讨论了ollo机器人Q1季度产品需求，确定了3个核心功能：智能语音交互升级、自主导航优化、多场景适配能力。产品团队对需求优先级达成一致，预计2月底完成原型开发。",
			KeyPoints:   []string{"确定ollo机器人Q1季度3个核心功能", "产品团队对需求优先级达成一致", "预计2月底完成原型开发"},
			Attendees:   []string{"产品经理", "技术负责人", "UI设计师"},
		},
		{
			MeetingID:   "002",
			Theme:       "CES展筹备会议",
			MeetingTime: "2026-01-08 10:00",
			Summary:     "会议讨论了2026年CES展会筹备工作，确定了展位设计方案、产品展示流程和现场互动体验。市场部负责展位搭建，技术部负责产品调试，运营部负责现场活动策划。预计1月15日前完成所有准备工作。",
			KeyPoints:   []string{"确定CES展位设计方案", "明确产品展示流程", "预计1月15日前完成准备工作"},
			Attendees:   []string{"市场部", "技术部", "运营部"},
		},
		{
			MeetingID:   "003",
			Theme:       "电机参数选型评审会",
			MeetingTime: "2026-01-12 15:30",
			Summary:     "会议评审了ollo机器人电机选型方案，对比了3款电机型号的性能参数。最终确定采用高扭矩无刷电机，额定转速3000rpm，最大扭矩5Nm。供应商已确认交货周期为4周，预计2月中旬到货。",
			KeyPoints:   []string{"确定采用高扭矩无刷电机", "电机参数：3000rpm，5Nm", "预计2月中旬到货"},
			Attendees:   []string{"硬件工程师", "供应链负责人", "项目经理"},
		},
		{
			MeetingID:   "004",
			Theme:       "周边UI设计方案讨论会",
			MeetingTime: "2026-01-09 09:00",
			Summary:     "会议讨论了ollo机器人周边产品的UI设计方案，包括手机APP界面、语音助手界面和Web管理平台。设计团队展示了3套设计稿，最终确定了以简洁科技感为主的设计风格。下周开始详细设计。",
			KeyPoints:   []string{"确定简洁科技感设计风格", "涵盖APP、语音助手、Web平台", "下周开始详细设计"},
			Attendees:   []string{"UI设计师", "产品经理", "前端开发"},
		},
		{
			MeetingID:   "005",
			Theme:       "ollo机器人技术架构评审",
			MeetingTime: "2026-01-11 16:00",
			Summary:     "会议评审了ollo机器人的技术架构方案，确定了分层架构设计：感知层、决策层、执行层。讨论了各层之间的通信协议和数据流转方式。技术团队对方案表示认可，计划下周开始详细设计。",
			KeyPoints:   []string{"确定感知层、决策层、执行层架构", "明确各层通信协议", "下周开始详细设计"},
			Attendees:   []string{"架构师", "技术负责人", "开发团队"},
		},
		{
			MeetingID:   "006",
			Theme:       "CES展会物料准备会",
			MeetingTime: "2026-01-07 11:00",
			Summary:     "会议审核了CES展会所需的物料清单，包括产品样机、宣传册、展示视频和互动设备。确认了物料制作时间节点：宣传册1月10日前完成，展示视频1月12日前完成，样机调试1月14日前完成。",
			KeyPoints:   []string{"确认物料清单", "宣传册1月10日前完成", "样机调试1月14日前完成"},
			Attendees:   []string{"市场部", "设计部", "技术部"},
		},
		{
			MeetingID:   "007",
			Theme:       "电机性能测试方案讨论",
			MeetingTime: "2026-01-13 10:30",
			Summary:     "会议讨论了电机性能测试方案，确定了测试项目：扭矩测试、转速测试、温升测试和寿命测试。测试周期预计2周，测试设备已准备就绪。测试完成后将输出详细的性能报告。",
			KeyPoints:   []string{"确定4个测试项目", "测试周期2周", "将输出详细性能报告"},
			Attendees:   []string{"测试工程师", "硬件工程师", "项目经理"},
		},
		{
			MeetingID:   "008",
			Theme:       "周边产品用户体验优化会",
			MeetingTime: "2026-01-14 14:30",
			Summary:     "会议分析了ollo机器人周边产品的用户反馈数据，确定了3个优化方向：简化APP操作流程、提升语音识别准确率、增强个性化推荐功能。设计团队将在本周完成优化方案设计，下周开始开发。",
			KeyPoints:   []string{"确定3个优化方向", "本周完成优化方案设计", "下周开始开发"},
			Attendees:   []string{"产品部", "设计部", "开发部"},
		},
	}
}
